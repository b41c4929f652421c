package validate

// Failure classes carried by check results and reports. Each class maps to
// a distinct process exit code so callers can branch without parsing JSON.
const (
	FailBoot     = "BOOT_FAIL"
	FailHealth   = "HEALTH_FAIL"
	FailEndpoint = "ENDPOINT_FAIL"
	FailSchema   = "SCHEMA_FAIL"
	FailUnknown  = "UNKNOWN_FAIL"
)

// CheckResult is the outcome of a single pipeline check.
type CheckResult struct {
	ID          string                 `json:"id"`
	Required    bool                   `json:"required"`
	OK          bool                   `json:"ok"`
	FailureKind *string                `json:"failureKind"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Report is the machine-readable result of validating one application.
type Report struct {
	OK           bool          `json:"ok"`
	Template     string        `json:"template"`
	AppPath      string        `json:"appPath"`
	BaseURL      string        `json:"baseUrl,omitempty"`
	StartedAt    string        `json:"startedAt"`
	FinishedAt   string        `json:"finishedAt"`
	DurationMs   int64         `json:"durationMs"`
	Checks       []CheckResult `json:"checks"`
	FailureClass *string       `json:"failureClass"`
}

// ExitCodeFor maps a report's failure class to the process exit code.
func ExitCodeFor(failureClass *string) int {
	if failureClass == nil {
		return 0
	}
	switch *failureClass {
	case FailBoot:
		return 10
	case FailHealth:
		return 11
	case FailEndpoint:
		return 12
	case FailSchema:
		return 13
	default:
		return 1
	}
}

func failPtr(class string) *string { return &class }

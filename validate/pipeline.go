package validate

import (
	"appvet/logger"
)

// RunPipeline executes the profile's checks in order. A required check that
// fails stops the pipeline immediately; optional failures are recorded and
// the run continues. The returned failure class, when non-nil, is the kind
// of the first required failure.
func RunPipeline(profile Profile, base CheckContext) ([]CheckResult, *string) {
	var results []CheckResult
	var failureClass *string

	for _, spec := range profile.Checks {
		ctx := base
		ctx.Required = spec.Required
		ctx.Config = spec.Config

		fn, known := checkRegistry[spec.ID]
		var result CheckResult
		if !known {
			// Unknown check ids fail only when the profile demands them.
			result = CheckResult{ID: spec.ID, Required: spec.Required, OK: !spec.Required,
				Details: map[string]interface{}{"reason": "unknown_check"}}
			if spec.Required {
				result.FailureKind = failPtr(FailUnknown)
			}
		} else {
			logger.Debugf("running check %s (required=%v)", spec.ID, spec.Required)
			result = fn(ctx)
			result.Required = spec.Required
		}

		results = append(results, result)
		if !result.OK && spec.Required {
			failureClass = result.FailureKind
			if failureClass == nil {
				failureClass = failPtr(FailUnknown)
			}
			logger.Warnf("required check %s failed (%s); stopping pipeline", spec.ID, *failureClass)
			break
		}
	}
	return results, failureClass
}

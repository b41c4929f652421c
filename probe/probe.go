// Package probe polls an HTTP endpoint within a bounded per-attempt timeout
// and an overall deadline, and turns ambiguous transport failures into a
// stable taxonomy.
package probe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"golang.org/x/time/rate"

	"appvet/logger"
)

const (
	// DefaultPerAttemptTimeout bounds one GET.
	DefaultPerAttemptTimeout = 2 * time.Second
	// attemptInterval paces the polling loop (~4 attempts/s).
	attemptInterval = 250 * time.Millisecond
	maxBodyBytes    = 1 << 20
)

// Options configures a probe loop.
type Options struct {
	PerAttemptTimeout time.Duration
	OverallDeadline   time.Duration
	// AcceptAnyStatus treats any HTTP response as success (boot check
	// semantics); otherwise only 2xx succeeds.
	AcceptAnyStatus bool
	// ProcessExited, when non-nil and returning true, aborts the loop with
	// KindProcessExited regardless of remaining budget: a dead process will
	// never start answering.
	ProcessExited func() bool
}

// Result is the outcome of a probe loop or single attempt.
type Result struct {
	OK          bool
	StatusCode  int
	Body        []byte
	JSON        map[string]interface{}
	FailureKind string
	Attempts    int
}

type attemptOutcome struct {
	status        int
	body          []byte
	errKind       string
	connCompleted bool
}

func attempt(url string, timeout time.Duration) attemptOutcome {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var out attemptOutcome
	trace := &httptrace.ClientTrace{
		ConnectDone: func(network, addr string, err error) {
			if err == nil {
				out.connCompleted = true
			}
		},
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodGet, url, nil)
	if err != nil {
		out.errKind = KindDNS
		return out
	}

	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		out.errKind = classifyError(err)
		return out
	}
	defer resp.Body.Close()

	out.status = resp.StatusCode
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err == nil {
		out.body = body
	}
	return out
}

// Get issues a single GET with the given timeout.
func Get(url string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultPerAttemptTimeout
	}
	out := attempt(url, timeout)
	return resultFromOutcome(out, false, 1)
}

// Probe polls url until a response is observed or the overall deadline
// elapses. Attempts are paced by a rate limiter rather than a bare sleep so
// a slow attempt does not stack an extra delay on top of its own latency.
//
// Disambiguation rule: when the loop ends on a timeout and no TCP connection
// was ever completed, the outcome is reported as CONN_REFUSED. On loopback,
// "nothing ever listened" is the overwhelmingly likely cause, and pinning
// the kind keeps runs comparable.
func Probe(url string, opts Options) Result {
	perAttempt := opts.PerAttemptTimeout
	if perAttempt <= 0 {
		perAttempt = DefaultPerAttemptTimeout
	}
	overall := opts.OverallDeadline
	if overall <= 0 {
		overall = 12 * time.Second
	}

	deadline := time.Now().Add(overall)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	limiter := rate.NewLimiter(rate.Every(attemptInterval), 1)

	var (
		attempts      int
		lastKind      string
		connCompleted bool
	)
	for {
		if opts.ProcessExited != nil && opts.ProcessExited() {
			logger.Debugf("probe aborted after %d attempts: process exited", attempts)
			return Result{FailureKind: KindProcessExited, Attempts: attempts}
		}

		out := attempt(url, perAttempt)
		attempts++
		if out.connCompleted {
			connCompleted = true
		}
		if out.errKind == "" {
			res := resultFromOutcome(out, opts.AcceptAnyStatus, attempts)
			return res
		}
		lastKind = out.errKind

		if time.Now().After(deadline) {
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			break
		}
	}

	if lastKind == "" {
		lastKind = KindTimeout
	}
	if lastKind == KindTimeout && !connCompleted {
		lastKind = KindConnRefused
	}
	return Result{FailureKind: lastKind, Attempts: attempts}
}

func resultFromOutcome(out attemptOutcome, acceptAnyStatus bool, attempts int) Result {
	res := Result{StatusCode: out.status, Body: out.body, Attempts: attempts}
	if out.errKind != "" {
		res.FailureKind = out.errKind
		return res
	}
	var decoded map[string]interface{}
	if json.Unmarshal(out.body, &decoded) == nil {
		res.JSON = decoded
	}
	if acceptAnyStatus || (out.status >= 200 && out.status < 300) {
		res.OK = true
	} else {
		res.FailureKind = KindHTTPNon2xx
	}
	return res
}

package probe

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"syscall"
	"testing"
	"time"
)

func TestGetHealthyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok","uptimeSeconds":1.5}`)
	}))
	defer srv.Close()

	res := Get(srv.URL+"/health", time.Second)
	if !res.OK || res.StatusCode != 200 {
		t.Fatalf("res = %+v", res)
	}
	if res.JSON["status"] != "ok" {
		t.Fatalf("JSON not decoded: %+v", res.JSON)
	}
}

func TestGetNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := Get(srv.URL, time.Second)
	if res.OK || res.FailureKind != KindHTTPNon2xx {
		t.Fatalf("res = %+v", res)
	}
	if res.StatusCode != 503 {
		t.Fatalf("StatusCode = %d", res.StatusCode)
	}
}

// closedPortURL returns a loopback URL nothing is listening on.
func closedPortURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return "http://127.0.0.1:" + strconv.Itoa(port)
}

func TestProbeConnectionRefused(t *testing.T) {
	res := Probe(closedPortURL(t), Options{
		PerAttemptTimeout: 300 * time.Millisecond,
		OverallDeadline:   800 * time.Millisecond,
	})
	if res.OK {
		t.Fatal("probe unexpectedly succeeded")
	}
	if res.FailureKind != KindConnRefused {
		t.Fatalf("FailureKind = %s, want %s", res.FailureKind, KindConnRefused)
	}
	if res.Attempts < 2 {
		t.Fatalf("expected multiple attempts, got %d", res.Attempts)
	}
}

func TestProbeSucceedsOnceServerResponds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	// Boot semantics: any HTTP response counts.
	res := Probe(srv.URL, Options{
		PerAttemptTimeout: time.Second,
		OverallDeadline:   2 * time.Second,
		AcceptAnyStatus:   true,
	})
	if !res.OK {
		t.Fatalf("res = %+v", res)
	}
}

func TestProbeProcessExitedShortCircuits(t *testing.T) {
	start := time.Now()
	res := Probe(closedPortURL(t), Options{
		PerAttemptTimeout: time.Second,
		OverallDeadline:   10 * time.Second,
		ProcessExited:     func() bool { return true },
	})
	if res.FailureKind != KindProcessExited {
		t.Fatalf("FailureKind = %s", res.FailureKind)
	}
	if time.Since(start) > time.Second {
		t.Fatal("probe did not abort promptly on process exit")
	}
}

func TestProbeTimeoutWithEstablishedConnection(t *testing.T) {
	// A listener that accepts but never answers: the connection completes,
	// so the timeout must NOT be reclassified as CONN_REFUSED.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	res := Probe("http://"+l.Addr().String(), Options{
		PerAttemptTimeout: 200 * time.Millisecond,
		OverallDeadline:   600 * time.Millisecond,
	})
	if res.OK {
		t.Fatal("probe unexpectedly succeeded")
	}
	if res.FailureKind != KindTimeout {
		t.Fatalf("FailureKind = %s, want %s", res.FailureKind, KindTimeout)
	}
}

func TestProbeTimeoutWithoutConnectionReclassified(t *testing.T) {
	// 192.0.2.0/24 (TEST-NET-1) blackholes SYNs: every attempt times out
	// without a TCP connection ever completing, and that outcome must read
	// as CONN_REFUSED, not TIMEOUT.
	res := Probe("http://192.0.2.1:9", Options{
		PerAttemptTimeout: 50 * time.Millisecond,
		OverallDeadline:   300 * time.Millisecond,
	})
	if res.OK {
		t.Fatal("probe unexpectedly succeeded")
	}
	if res.FailureKind != KindConnRefused {
		t.Fatalf("FailureKind = %s, want %s", res.FailureKind, KindConnRefused)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{syscall.ECONNREFUSED, KindConnRefused},
		{fmt.Errorf("dial: %w", syscall.ECONNREFUSED), KindConnRefused},
		{&net.DNSError{Err: "no such host", Name: "nope.invalid"}, KindDNS},
		{syscall.ENETUNREACH, KindNetUnreachable},
		{syscall.EHOSTUNREACH, KindHostUnreachable},
		{tls.RecordHeaderError{Msg: "bad record"}, KindTLS},
		{errors.New("remote error: tls: handshake failure"), KindTLS},
		{&timeoutError{}, KindTimeout},
	}
	for _, tc := range cases {
		if got := classifyError(tc.err); got != tc.want {
			t.Errorf("classifyError(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

type timeoutError struct{}

func (*timeoutError) Error() string   { return "i/o timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }

package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Failure kinds, in documented priority order.
const (
	KindConnRefused     = "CONN_REFUSED"
	KindTimeout         = "TIMEOUT"
	KindDNS             = "DNS"
	KindNetUnreachable  = "NET_UNREACHABLE"
	KindHostUnreachable = "HOST_UNREACHABLE"
	KindTLS             = "TLS"
	KindHTTPNon2xx      = "HTTP_NON_2XX"
	KindProcessExited   = "PROCESS_EXITED"
)

// classifyError maps a transport error to a failure kind. Specific kinds are
// checked before the broad timeout test so that, e.g., a refused connection
// wrapped in a url.Error never degrades to TIMEOUT.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnRefused
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}

	if errors.Is(err, syscall.ENETUNREACH) {
		return KindNetUnreachable
	}
	if errors.Is(err, syscall.EHOSTUNREACH) {
		return KindHostUnreachable
	}

	if isTLSError(err) {
		return KindTLS
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return KindTimeout
}

func isTLSError(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	return strings.Contains(err.Error(), "tls:")
}

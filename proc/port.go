package proc

import (
	"net"
)

// AllocateEphemeralPort binds a loopback listener on port 0, reads the
// kernel-assigned port and releases it. Best effort: the port is only
// reserved until the release, so a racing process can steal it in the
// window before the target application binds. That race surfaces as an
// ordinary boot failure.
func AllocateEphemeralPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, err
	}
	return port, nil
}

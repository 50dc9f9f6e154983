// Package portutil finds TCP ports the OS currently reports free.
package portutil

import "net"

// Allocate asks the OS for a free TCP port by briefly binding to :0 on the
// loopback interface, then closing the listener. The port can still be
// claimed by another process before the caller binds it; callers that need
// a hard guarantee should keep the listener open and hand off the fd
// instead, which this package does not attempt to model.
func Allocate() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()

	addr := l.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

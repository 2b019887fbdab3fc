package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrNotListening is returned by Serve when Listen has not bound a socket.
	ErrNotListening = errors.New("relay: server is not listening")
	// ErrAlreadyServing is returned by Serve on a server that has already run.
	ErrAlreadyServing = errors.New("relay: server already served")
)

// BindError reports a failure to bind the UDP socket. The loop never starts
// after a BindError.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("binding udp %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

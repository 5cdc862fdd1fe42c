package errors

import (
	"fmt"
	"time"
)

// TimeoutError reports an RPC call whose reply did not arrive within its timeout.
// The remote handler is not cancelled and may still run to completion.
type TimeoutError struct {
	Service string
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc %s.%s: no reply within %s", e.Service, e.Method, e.Timeout)
}

// Is makes errors.Is(err, ErrRemoteTimeout) hold for *TimeoutError.
func (e *TimeoutError) Is(target error) bool { return target == ErrRemoteTimeout }

// RemoteError carries the message of an error envelope returned by a remote handler.
type RemoteError struct {
	Service       string
	Method        string
	Message       string
	Traceback     string
	CorrelationID string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc %s.%s: %s", e.Service, e.Method, e.Message)
}

// Is makes errors.Is(err, ErrRemote) hold for *RemoteError.
func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

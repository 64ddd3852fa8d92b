package rpcerr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// FaultKind tags a fault raised by a call primitive.
type FaultKind int

const (
	// FaultRemote means the remote operation itself failed.
	FaultRemote FaultKind = iota
	// FaultTimeout means the call exhausted its time budget.
	FaultTimeout
	// FaultDisconnected means the peer could not be reached or went away.
	FaultDisconnected
	// FaultBadInput means the call was rejected before it was sent.
	FaultBadInput
)

func (k FaultKind) String() string {
	switch k {
	case FaultRemote:
		return "remote"
	case FaultTimeout:
		return "timeout"
	case FaultDisconnected:
		return "disconnected"
	case FaultBadInput:
		return "bad_input"
	default:
		return fmt.Sprintf("FaultKind(%d)", int(k))
	}
}

// Fault is the error value call primitives return at their boundary.
type Fault struct {
	Kind FaultKind
	Err  error
}

// NewFault wraps err as a fault of the given kind.
func NewFault(kind FaultKind, err error) *Fault {
	return &Fault{Kind: kind, Err: err}
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return f.Kind.String() + " fault"
	}
	return f.Kind.String() + " fault: " + f.Err.Error()
}

func (f *Fault) Unwrap() error { return f.Err }

// Attempt describes the call during which a fault occurred.
type Attempt struct {
	Target    string
	Operation string
	Peer      string
	Index     int
}

func (a Attempt) details() map[string]any {
	d := map[string]any{
		DetailPeer:    a.Peer,
		DetailAttempt: a.Index,
	}
	if a.Target != "" {
		d[DetailTarget] = a.Target
	}
	if a.Operation != "" {
		d[DetailOperation] = a.Operation
	}
	return d
}

// Classify maps a raw fault to a typed error. The returned error always
// carries the attempted peer and the attempt index.
func Classify(err error, at Attempt) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		out := typed
		for k, v := range at.details() {
			if _, ok := out.Details[k]; !ok {
				out = out.With(k, v)
			}
		}
		return out.With(DetailAttempt, at.Index)
	}

	kind := kindOf(err)
	d := at.details()
	d[DetailFaultType] = faultType(err)
	return Wrap(kind, err, messageFor(kind, err), d)
}

func kindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		switch f.Kind {
		case FaultTimeout:
			return KindTimeout
		case FaultDisconnected:
			return KindPeer
		case FaultBadInput:
			return KindValidation
		default:
			return KindRPC
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}

	var op *net.OpError
	if errors.As(err, &op) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindPeer
	}

	return KindRPC
}

func messageFor(kind Kind, err error) string {
	switch kind {
	case KindTimeout:
		return "call timed out"
	case KindPeer:
		return "peer unreachable: " + err.Error()
	case KindValidation:
		return "call rejected: " + err.Error()
	default:
		return "remote call failed: " + err.Error()
	}
}

// faultType names the innermost concrete type of err, skipping the Fault
// envelope so diagnostics point at the real cause.
func faultType(err error) string {
	var f *Fault
	if errors.As(err, &f) && f.Err != nil {
		return fmt.Sprintf("%T", f.Err)
	}
	return fmt.Sprintf("%T", err)
}

package engine

import "github.com/vietddude/peercall/internal/core/rpcerr"

// Result is the outcome of a wrapped execution: either a value or a typed
// error, never both.
type Result struct {
	Value any
	Err   *rpcerr.Error
}

// Ok returns a successful result.
func Ok(v any) Result { return Result{Value: v} }

// Err returns a failed result.
func Err(e *rpcerr.Error) Result { return Result{Err: e} }

// OK reports whether the execution succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Unwrap returns the result as a value and error pair.
func (r Result) Unwrap() (any, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Value, nil
}

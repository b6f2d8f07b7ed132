package core

import "fmt"

// ErrorInfo is the error part of a failed Result.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the uniform envelope returned by every externally facing
// operation: {success, data?, error?}.
type Result struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// OK wraps data in a successful result.
func OK(data any) Result { return Result{Success: true, Data: data} }

// Fail wraps err in a failed result.
func Fail(err error) Result {
	if err == nil {
		err = fmt.Errorf("unknown error")
	}
	return Result{Error: &ErrorInfo{Code: ErrorCode(err), Message: err.Error()}}
}

// Err returns the failure as an error, or nil for successful results.
func (r Result) Err() error {
	if r.Success || r.Error == nil {
		return nil
	}
	return fmt.Errorf("%s: %s", r.Error.Code, r.Error.Message)
}

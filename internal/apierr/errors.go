// Package apierr defines the gateway's error taxonomy: a set of sentinel
// kinds, a wrapping type that carries the failing operation, and a mapper
// from error to HTTP status.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds. Errors the core components raise for the taxonomy's
// failure cases wrap one of these, so callers can classify them with
// errors.Is regardless of the message or operation attached; other errors
// (for example raw database errors) map to 500 in HTTPStatus.
var (
	ErrBadRequest         = errors.New("malformed request")
	ErrNoSuitableEngine    = errors.New("no upstream engine supports the requested workflow type/version")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("requester is not the resource owner")
	ErrNotFound           = errors.New("resource not found")
	ErrIdsUnavailable     = errors.New("no unique run id could be minted")
	ErrStorageUnavailable = errors.New("workspace storage unavailable")
	ErrEngineUnavailable  = errors.New("upstream engine unavailable")
	ErrEngineProblem      = errors.New("upstream engine returned invalid responses")
	ErrInvalidState       = errors.New("state is not a member of the run state enum")
)

// Error wraps a sentinel kind with the operation that failed and, when
// available, the underlying cause.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("apierr.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap builds an *Error for op that satisfies errors.Is(kind).
func Wrap(op string, kind error) *Error {
	return &Error{Op: op, Err: kind}
}

// Wrapf builds an *Error for op whose cause chains back to kind via %w, so
// errors.Is(result, kind) still holds while the message carries detail.
func Wrapf(op string, kind error, format string, args ...any) *Error {
	return &Error{Op: op, Err: fmt.Errorf(format+": %w", append(args, kind)...)}
}

func IsBadRequest(err error) bool         { return errors.Is(err, ErrBadRequest) }
func IsNoSuitableEngine(err error) bool    { return errors.Is(err, ErrNoSuitableEngine) }
func IsUnauthorized(err error) bool       { return errors.Is(err, ErrUnauthorized) }
func IsForbidden(err error) bool          { return errors.Is(err, ErrForbidden) }
func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsIdsUnavailable(err error) bool     { return errors.Is(err, ErrIdsUnavailable) }
func IsStorageUnavailable(err error) bool { return errors.Is(err, ErrStorageUnavailable) }
func IsEngineUnavailable(err error) bool  { return errors.Is(err, ErrEngineUnavailable) }
func IsEngineProblem(err error) bool      { return errors.Is(err, ErrEngineProblem) }
func IsInvalidState(err error) bool       { return errors.Is(err, ErrInvalidState) }

// HTTPStatus maps an error to the status code from the gateway's error
// taxonomy table. Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsBadRequest(err), IsNoSuitableEngine(err), IsInvalidState(err):
		return http.StatusBadRequest
	case IsUnauthorized(err):
		return http.StatusUnauthorized
	case IsForbidden(err):
		return http.StatusForbidden
	case IsNotFound(err):
		return http.StatusNotFound
	case IsIdsUnavailable(err), IsStorageUnavailable(err), IsEngineUnavailable(err), IsEngineProblem(err):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

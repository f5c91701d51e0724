package weread

import "fmt"

// Error codes WeRead returns when the session cookie is no longer valid.
const (
	errCodeSessionExpired = -2012
	errCodeSessionKicked  = -2010
)

// TransportError is returned when a request still fails after the retry
// budget is exhausted. Attempts records how many tries were made.
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("weread: request to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SessionExpiredError indicates the WeRead cookie is dead. Retrying is
// pointless: every subsequent request will fail the same way, so callers
// should stop the run and ask for a fresh cookie.
type SessionExpiredError struct {
	Code int
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("weread: session expired (errcode %d), refresh the cookie", e.Code)
}

// APIError is a non-session application error reported via the errcode field.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("weread: api error: %s (code %d)", msg, e.Code)
}

// UnexpectedShapeError is returned when a response matches none of the known
// envelope variants for an endpoint.
type UnexpectedShapeError struct {
	Endpoint string
}

func (e *UnexpectedShapeError) Error() string {
	return fmt.Sprintf("weread: %s returned a response in an unrecognized shape", e.Endpoint)
}

package notion

import "fmt"

// RemoteWriteError wraps a create/update/append rejected by the Notion API.
type RemoteWriteError struct {
	Op  string
	Err error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("notion: %s failed: %v", e.Op, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

package broker

import "fmt"

// Error is an error reported by the broker inside a response body.
type Error struct {
	Code    uint32 `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("broker: %d %s: %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("broker: %d %s", e.Code, e.Reason)
}

// DataEntryError ties a broker error to the path it concerns.
type DataEntryError struct {
	Path  string `json:"path"`
	Error Error  `json:"error"`
}

// PathError is returned by Err helpers for entry level failures.
type PathError struct {
	Path string
	Err  *Error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// responseErr prefers the first entry error, which names the failing path,
// over the summary error of the response.
func responseErr(top *Error, entries []DataEntryError) error {
	if len(entries) > 0 {
		entry := entries[0]
		return &PathError{Path: entry.Path, Err: &entry.Error}
	}
	if top != nil && top.Code != 0 && top.Code != CodeOK {
		return top
	}
	return nil
}

// Codes used by the broker, mirroring HTTP status semantics.
const (
	CodeOK         uint32 = 200
	CodeBadRequest uint32 = 400
	CodeNotFound   uint32 = 404
)

// NotFound builds the entry error reported for an unknown path.
func NotFound(path string) DataEntryError {
	return DataEntryError{
		Path: path,
		Error: Error{
			Code:    CodeNotFound,
			Reason:  "not_found",
			Message: fmt.Sprintf("%s not found", path),
		},
	}
}

// BadRequest builds an entry error for a malformed update of path.
func BadRequest(path, message string) DataEntryError {
	return DataEntryError{
		Path: path,
		Error: Error{
			Code:    CodeBadRequest,
			Reason:  "bad_request",
			Message: message,
		},
	}
}

package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexNotFound is returned when the fetch phase starts before discovery has run.
	ErrIndexNotFound = errors.New("checkpoint index not found; run discovery first")
	// ErrUnknownParent is returned when a redo names a team missing from the index.
	ErrUnknownParent = errors.New("team not present in checkpoint index")
	// ErrInvalidID is returned for IDs that are not numeric.
	ErrInvalidID = errors.New("invalid entity id")
	// ErrMalformed marks documents that fetched fine but could not be parsed.
	ErrMalformed = errors.New("malformed document")
)

// FetchError carries a non-success fetch outcome as an error value.
type FetchError struct {
	URL        string
	Outcome    Outcome
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Outcome)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AsFetchError converts a non-success result into a *FetchError.
func AsFetchError(res FetchResult) *FetchError {
	return &FetchError{URL: res.URL, Outcome: res.Outcome, StatusCode: res.StatusCode, Err: res.Err}
}

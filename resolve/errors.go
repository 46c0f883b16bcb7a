package resolve

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned when the minimum re-fetch interval for a
// reference has not elapsed. The caller keeps the identity and retries
// later.
var ErrRateLimited = errors.New("fetch rate limited")

// UnreachableError reports a transport-level failure. The reference stays
// valid; only its data is unknown.
type UnreachableError struct {
	URI string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("unreachable: %s: %v", e.URI, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// InvalidDocumentError reports that the remote answered but the response
// cannot serve as a linked document: bad status, wrong media type, or a
// body that does not decode.
type InvalidDocumentError struct {
	URI    string
	Reason string
}

func (e *InvalidDocumentError) Error() string {
	return fmt.Sprintf("invalid document: %s: %s", e.URI, e.Reason)
}

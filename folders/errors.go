package folders

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyName is returned when a resolution has neither a folder id
	// hint nor a participant name to search for.
	ErrEmptyName = errors.New("participant name is required")

	// ErrRepeatedPageToken guards against a remote that keeps handing back
	// the same page.
	ErrRepeatedPageToken = errors.New("remote returned a repeated page token")
)

// RemoteError is a transport, auth or quota failure while listing the
// children of ParentID.
type RemoteError struct {
	ParentID string
	Err      error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("list children of %s: %v", e.ParentID, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ConfigError reports configuration that cannot drive a search.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// IsRemote reports whether err is (or wraps) a RemoteError.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

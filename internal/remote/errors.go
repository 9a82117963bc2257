package remote

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrNotFound indicates the target row does not exist on the remote system.
// Updates treat this as "recreate via insert"; deletes treat it as success.
var ErrNotFound = errors.New("remote row not found")

// ErrMissingRelation indicates the remote relation itself does not exist.
// Older deployments may lack optional tables: this is skippable during pull
// but a hard failure during push (except where a table declares a legacy
// representation to fall back to).
var ErrMissingRelation = errors.New("remote relation does not exist")

// StatusError is a non-2xx response that is neither a not-found nor a
// missing relation: constraint violations, permission denials, server
// errors. These are retried up to the ceiling, then dropped.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote rejected request: status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err means the target row is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsMissingRelation reports whether err means the relation is absent.
func IsMissingRelation(err error) bool {
	return errors.Is(err, ErrMissingRelation)
}

// IsTransient reports whether err is a transport-level failure (no
// connectivity, timeout). Transient failures don't consume retries: the
// network monitor re-triggers a sync once connectivity returns.
func IsTransient(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

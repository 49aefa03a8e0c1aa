// Package registry tracks which history ids a user may still be
// streaming or aborting. Entries live in a per-user expiring list; the
// list's TTL is refreshed on every registration and never extended by
// reads, so a worker that crashes without reporting a terminal event
// leaks nothing past the TTL.
package registry

import (
	"context"
	"time"
)

// TTL is how long a user's active-task list survives after the most
// recent registration.
const TTL = 1200 * time.Second

// Registry is the per-user bounded list of active history ids.
//
// Absence of an id means not-yet-dispatched, completed, or expired; the
// registry does not distinguish these. There is no removal on normal
// completion: entries are left to expire, and a stale entry only causes
// a correctly-rejected late read.
type Registry interface {
	// Register appends historyID to the user's list and resets the
	// list's expiry to TTL.
	Register(ctx context.Context, namespace string, userID, historyID int64) error
	// ListActive returns the current non-expired members.
	ListActive(ctx context.Context, namespace string, userID int64) ([]int64, error)
	IsActive(ctx context.Context, namespace string, userID, historyID int64) (bool, error)
}

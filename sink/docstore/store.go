// Package docstore abstracts the target document store. Documents are keyed
// by an id derived from the source row's primary key, which is what makes
// re-applying the same change a no-op instead of a duplicate.
package docstore

import (
	"context"
	"errors"

	"github.com/gridsx/pipegos/event"
)

// ErrRejected wraps permanent write rejections (schema mismatch, malformed
// document). Everything else returned by a store is treated as transient.
var ErrRejected = errors.New("document rejected by store")

// Store is the target side of the delivery path.
// Delete of an absent id must succeed so that replays stay idempotent.
type Store interface {
	Upsert(ctx context.Context, index, id string, doc event.Row) error
	Delete(ctx context.Context, index, id string) error
	Close() error
}

package batch

import "context"

// Store fetches and updates batch rows in the external job table.
// Implementations must be safe for concurrent use by every worker.
type Store interface {
	Fetch(ctx context.Context, id int64) (Record, error)
	Update(ctx context.Context, id int64, update Update) error
}

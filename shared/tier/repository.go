package tier

import "context"

// Repository persists Tier Records keyed by identity.
type Repository interface {
	// Get returns ErrNotFound when no record exists.
	Get(ctx context.Context, userID string) (Record, error)
	// Merge writes only the fields carried by the update, creating the record when absent.
	Merge(ctx context.Context, userID string, update Update) error
	// FindByEmail returns the first record whose email matches, or ErrNotFound.
	FindByEmail(ctx context.Context, email string) (Record, error)
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, userID string) error
	// Watch pushes the current record and every later change until ctx ends,
	// then closes the channel.
	Watch(ctx context.Context, userID string) (<-chan Record, error)
}

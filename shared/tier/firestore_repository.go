package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const usersCollection = "users"

type firestoreRepository struct {
	client *firestore.Client
	logger *slog.Logger
}

// NewFirestoreRepository stores Tier Records in the users collection, one document per identity.
func NewFirestoreRepository(client *firestore.Client, logger *slog.Logger) Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &firestoreRepository{client: client, logger: logger}
}

func (r *firestoreRepository) doc(userID string) *firestore.DocumentRef {
	return r.client.Collection(usersCollection).Doc(userID)
}

func (r *firestoreRepository) Get(ctx context.Context, userID string) (Record, error) {
	snap, err := r.doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get tier record: %w", err)
	}
	return decodeSnapshot(snap)
}

func (r *firestoreRepository) Merge(ctx context.Context, userID string, update Update) error {
	fields := update.Fields()
	if len(fields) == 0 {
		return nil
	}
	fields["updatedAt"] = firestore.ServerTimestamp

	if _, err := r.doc(userID).Set(ctx, fields, firestore.MergeAll); err != nil {
		return fmt.Errorf("merge tier record: %w", err)
	}
	return nil
}

func (r *firestoreRepository) FindByEmail(ctx context.Context, email string) (Record, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return Record{}, ErrNotFound
	}

	iter := r.client.Collection(usersCollection).
		Where("email", "==", email).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("query tier record by email: %w", err)
	}
	return decodeSnapshot(snap)
}

func (r *firestoreRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.doc(userID).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("delete tier record: %w", err)
	}
	return nil
}

func (r *firestoreRepository) Watch(ctx context.Context, userID string) (<-chan Record, error) {
	iter := r.doc(userID).Snapshots(ctx)
	out := make(chan Record, 1)

	go func() {
		defer close(out)
		defer iter.Stop()

		for {
			snap, err := iter.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					r.logger.Warn("tier record watch stopped",
						slog.String("userId", userID),
						slog.Any("error", err),
					)
				}
				return
			}
			if !snap.Exists() {
				continue
			}
			rec, err := decodeSnapshot(snap)
			if err != nil {
				r.logger.Warn("skipping undecodable tier record", slog.String("userId", userID), slog.Any("error", err))
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (Record, error) {
	var rec Record
	if err := snap.DataTo(&rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal tier record: %w", err)
	}
	rec.UserID = snap.Ref.ID
	return rec, nil
}

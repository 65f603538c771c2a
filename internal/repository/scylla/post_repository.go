package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"access-service/internal/models"
	"access-service/internal/util"
)

type ScyllaPostRepository struct {
	client *ScyllaClient
}

func NewPostRepository(client *ScyllaClient) *ScyllaPostRepository {
	return &ScyllaPostRepository{client: client}
}

func (r *ScyllaPostRepository) Create(ctx context.Context, post *models.Post) error {
	if post.PostID == (gocql.UUID{}) {
		post.PostID = gocql.UUIDFromTime(post.CreatedAt)
	}

	err := r.client.Query(ctx, Statements.InsertPost,
		post.AccountID, post.CreatedAt.UTC(), post.PostID, string(post.Kind), post.ObjectKey,
		post.ContentType, post.DurationSeconds, post.SizeBytes,
	).Exec()
	if err != nil {
		util.Error("Failed to create post",
			util.Identifier("account_id", post.AccountID),
			zap.String("kind", string(post.Kind)),
			zap.Error(err))
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// CountSince counts posts of one kind created at or after since.
func (r *ScyllaPostRepository) CountSince(ctx context.Context, accountID string, kind models.PostKind, since time.Time) (int, error) {
	var count int64
	if err := r.client.Query(ctx, Statements.CountPostSince, accountID, string(kind), since.UTC()).Scan(&count); err != nil {
		util.Error("Failed to count posts",
			util.Identifier("account_id", accountID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return int(count), nil
}

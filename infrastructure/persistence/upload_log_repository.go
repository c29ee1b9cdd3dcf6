package persistence

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
)

// UploadLogRepository stores the append-only upload audit trail in MongoDB.
// The log carries free-form per-event metadata (chunk counts, container ids,
// quota figures) which fits a schemaless collection better than a SQL table.
// A nil client degrades to a no-op so the worker keeps publishing when Mongo
// is down.
type UploadLogRepository struct {
	collection *mongo.Collection
}

func NewUploadLogRepository(client *mongo.Client, dbName string) *UploadLogRepository {
	if client == nil {
		return &UploadLogRepository{}
	}
	return &UploadLogRepository{collection: client.Database(dbName).Collection("upload_logs")}
}

type uploadLogDoc struct {
	ID        bson.ObjectID          `bson:"_id,omitempty"`
	PostID    int64                  `bson:"post_id"`
	Event     string                 `bson:"event"`
	Attempt   int                    `bson:"attempt"`
	Metadata  map[string]interface{} `bson:"metadata,omitempty"`
	CreatedAt time.Time              `bson:"created_at"`
}

func (r *UploadLogRepository) Append(ctx context.Context, entry *model.UploadLog) error {
	if r.collection == nil {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.collection.InsertOne(ctx, uploadLogDoc{
		PostID:    entry.PostID,
		Event:     entry.Event,
		Attempt:   entry.Attempt,
		Metadata:  entry.Metadata,
		CreatedAt: entry.CreatedAt,
	})
	if err != nil {
		// Audit logging must never fail a publish.
		logger.GetLogger().WithField("postId", entry.PostID).WithField("error", err).Warn("Failed to append upload log")
	}
	return nil
}

func (r *UploadLogRepository) ListByPost(ctx context.Context, postID int64, limit int) ([]*model.UploadLog, error) {
	if r.collection == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	cursor, err := r.collection.Find(ctx,
		bson.M{"post_id": postID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var list []*model.UploadLog
	for cursor.Next(ctx) {
		var doc uploadLogDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		list = append(list, &model.UploadLog{
			ID:        doc.ID.Hex(),
			PostID:    doc.PostID,
			Event:     doc.Event,
			Attempt:   doc.Attempt,
			Metadata:  doc.Metadata,
			CreatedAt: doc.CreatedAt,
		})
	}
	return list, cursor.Err()
}

var _ repository.IUploadLog = (*UploadLogRepository)(nil)

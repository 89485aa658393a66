package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/socialbook/internal/domain"
	"github.com/hilthontt/socialbook/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type notificationRepository struct {
	db *mongo.Database
}

func NewNotificationRepository(db *mongo.Database) domain.NotificationRepository {
	return &notificationRepository{
		db: db,
	}
}

func (r *notificationRepository) collection() *mongo.Collection {
	return r.db.Collection(db.NotificationsCollection)
}

// Create upserts on {user, commentId} when the comment is known, so a redelivered
// event never produces a second notification.
func (r *notificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	collection := r.collection()

	if n.CommentID == "" {
		_, err := collection.InsertOne(ctx, n)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		return nil
	}

	filter, update := upsertByComment(n)
	_, err := collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// Two concurrent upserts for the same comment: the loser hits the unique index.
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("upsert notification: %w", err)
	}
	return nil
}

func upsertByComment(n *domain.Notification) (bson.D, bson.D) {
	filter := bson.D{
		{Key: "user", Value: n.User},
		{Key: "commentId", Value: n.CommentID},
	}

	onInsert := bson.D{
		{Key: "_id", Value: n.ID},
		{Key: "read", Value: n.Read},
		{Key: "created_at", Value: n.CreatedAt},
	}
	if n.Actor != "" {
		onInsert = append(onInsert, bson.E{Key: "actor", Value: n.Actor})
	}
	if n.Message != "" {
		onInsert = append(onInsert, bson.E{Key: "message", Value: n.Message})
	}
	if n.ReviewID != "" {
		onInsert = append(onInsert, bson.E{Key: "reviewId", Value: n.ReviewID})
	}

	return filter, bson.D{{Key: "$setOnInsert", Value: onInsert}}
}

func (r *notificationRepository) ListByUser(ctx context.Context, user string, limit int) ([]domain.Notification, error) {
	if user == "" {
		return []domain.Notification{}, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(domain.NormalizeLimit(limit)))

	cursor, err := r.collection().Find(ctx, bson.M{"user": user}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	notifications := []domain.Notification{}
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, err
	}

	return notifications, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id, user string) (*domain.Notification, error) {
	if id == "" || user == "" {
		return nil, domain.ErrNotificationNotFound
	}

	filter := bson.M{"_id": id, "user": user}
	update := bson.M{"$set": bson.M{"read": true}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var n domain.Notification
	err := r.collection().FindOneAndUpdate(ctx, filter, update, opts).Decode(&n)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotificationNotFound
		}
		return nil, err
	}

	return &n, nil
}

func (r *notificationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection().Indexes().CreateMany(ctx, notificationIndexes())
	return err
}

func notificationIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "user", Value: 1},
				{Key: "commentId", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"commentId": bson.M{"$exists": true}}),
		},
	}
}

package store

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/keyhaven/messaging-service/internal/models"
)

type MongoMessageStore struct {
	coll *mongo.Collection
}

func NewMongoMessageStore(coll *mongo.Collection) *MongoMessageStore {
	_, _ = coll.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: 1}},
		Options: options.Index().SetName("thread_created_idx"),
	})
	return &MongoMessageStore{coll: coll}
}

func (s *MongoMessageStore) Append(ctx context.Context, thread *models.Thread, senderID, receiverID, content, msgType string) (*models.Message, error) {
	m, err := newMessage(thread, senderID, receiverID, content, msgType)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()
	if _, err := s.coll.InsertOne(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MongoMessageStore) ListByThread(ctx context.Context, threadID string, includeDeleted bool) ([]*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	filter := bson.M{"thread_id": threadID}
	if !includeDeleted {
		filter["is_deleted"] = false
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*models.Message{}
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}

func (s *MongoMessageStore) MarkRead(ctx context.Context, messageID, userID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	// the read_by guard keeps the receipt append idempotent
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": messageID, "read_by.user_id": bson.M{"$ne": userID}},
		bson.M{"$push": bson.M{"read_by": models.ReadReceipt{UserID: userID, ReadAt: at}}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// already read, or missing; distinguish for callers
		n, err := s.coll.CountDocuments(ctx, bson.M{"_id": messageID})
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrMessageNotFound
		}
	}
	return nil
}

func (s *MongoMessageStore) MarkThreadRead(ctx context.Context, threadID, userID string, at time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	res, err := s.coll.UpdateMany(ctx,
		bson.M{
			"thread_id":       threadID,
			"is_deleted":      false,
			"sender_id":       bson.M{"$ne": userID},
			"read_by.user_id": bson.M{"$ne": userID},
		},
		bson.M{"$push": bson.M{"read_by": models.ReadReceipt{UserID: userID, ReadAt: at}}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *MongoMessageStore) Get(ctx context.Context, messageID string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var m models.Message
	if err := s.coll.FindOne(ctx, bson.M{"_id": messageID}).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *MongoMessageStore) SoftDelete(ctx context.Context, messageID, actorID string) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": messageID, "sender_id": actorID},
		bson.M{"$set": bson.M{"is_deleted": true}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func newMessage(thread *models.Thread, senderID, receiverID, content, msgType string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > models.MaxMessageLength {
		return nil, ErrValidation
	}
	if !thread.IsParticipant(senderID) {
		return nil, ErrNotParticipant
	}
	if receiverID != "" && !thread.IsParticipant(receiverID) {
		return nil, ErrNotParticipant
	}
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	// ObjectIDs are monotonic within a process, so the (created_at, _id)
	// replay sort keeps append order for same-millisecond inserts.
	return &models.Message{
		ID:         primitive.NewObjectID().Hex(),
		ThreadID:   thread.ID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       msgType,
		ReadBy:     []models.ReadReceipt{},
		CreatedAt:  time.Now().UTC(),
	}, nil
}

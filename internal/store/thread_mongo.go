package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/keyhaven/messaging-service/internal/models"
	"github.com/keyhaven/messaging-service/internal/routing"
)

const mongoOpTimeout = 5 * time.Second

// MongoThreadStore keeps one document per thread. The unique partial index on
// (participant_key, property_id) over active threads is what makes
// FindOrCreate race-safe: the slower of two concurrent creators hits a
// duplicate-key error and re-reads the winner.
type MongoThreadStore struct {
	coll *mongo.Collection
}

func NewMongoThreadStore(coll *mongo.Collection) *MongoThreadStore {
	_, _ = coll.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "participant_key", Value: 1}, {Key: "property_id", Value: 1}},
			Options: options.Index().
				SetName("active_pair_context_uniq").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": string(models.ThreadActive), "is_deleted": false}),
		},
		{
			Keys:    bson.D{{Key: "participants.user_id", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("participant_updated_idx"),
		},
	})
	return &MongoThreadStore{coll: coll}
}

func (s *MongoThreadStore) FindActive(ctx context.Context, userA, userB, propertyID string) (*models.Thread, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	filter := bson.M{
		"participant_key": models.ParticipantKey(userA, userB),
		"status":          string(models.ThreadActive),
		"is_deleted":      false,
	}
	if propertyID != "" {
		filter["property_id"] = propertyID
	} else {
		filter["property_id"] = bson.M{"$exists": false}
	}

	var t models.Thread
	if err := s.coll.FindOne(ctx, filter).Decode(&t); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *MongoThreadStore) Create(ctx context.Context, participants []models.Participant, propertyID string) (*models.Thread, error) {
	t, err := newThread(participants, propertyID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()
	if _, err := s.coll.InsertOne(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *MongoThreadStore) FindOrCreate(ctx context.Context, participants []models.Participant, propertyID string) (*models.Thread, bool, error) {
	if len(participants) != 2 {
		return nil, false, ErrInvalidParticipants
	}
	existing, err := s.FindActive(ctx, participants[0].UserID, participants[1].UserID, propertyID)
	if err == nil {
		return existing, false, nil
	}
	if err != ErrThreadNotFound {
		return nil, false, err
	}

	created, err := s.Create(ctx, participants, propertyID)
	if err == nil {
		return created, true, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		// lost the creation race; the winner's thread is the thread
		winner, ferr := s.FindActive(ctx, participants[0].UserID, participants[1].UserID, propertyID)
		if ferr != nil {
			return nil, false, ferr
		}
		return winner, false, nil
	}
	return nil, false, err
}

func (s *MongoThreadStore) Get(ctx context.Context, id string) (*models.Thread, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var t models.Thread
	err := s.coll.FindOne(ctx, bson.M{"_id": id, "is_deleted": false}).Decode(&t)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *MongoThreadStore) ListForUser(ctx context.Context, userID string, page, limit int64) ([]*models.Thread, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	filter := bson.M{
		"participants.user_id": userID,
		"status":               string(models.ThreadActive),
		"is_deleted":           false,
	}
	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetSkip((page - 1) * limit).
		SetLimit(limit)
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var out []*models.Thread
	for cur.Next(ctx) {
		var t models.Thread
		if err := cur.Decode(&t); err != nil {
			return nil, 0, err
		}
		out = append(out, &t)
	}
	return out, total, cur.Err()
}

func (s *MongoThreadStore) RecordIncomingMessage(ctx context.Context, threadID, senderID, preview string, sentAt time.Time) (*models.Thread, error) {
	t, err := s.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}

	inc := bson.M{"message_count": 1}
	for _, p := range t.Participants {
		if p.UserID != senderID {
			inc["unread_counts."+p.UserID] = 1
		}
	}
	update := bson.M{
		"$set": bson.M{
			"last_message": models.LastMessage{Content: preview, SenderID: senderID, SentAt: sentAt},
			"updated_at":   sentAt,
		},
		"$inc": inc,
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()
	var updated models.Thread
	err = s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": threadID, "is_deleted": false},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *MongoThreadStore) MarkRead(ctx context.Context, threadID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": threadID, "is_deleted": false},
		bson.M{"$set": bson.M{"unread_counts." + userID: int64(0)}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrThreadNotFound
	}
	return nil
}

func (s *MongoThreadStore) SoftDelete(ctx context.Context, threadID string) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": threadID, "is_deleted": false},
		bson.M{"$set": bson.M{"is_deleted": true, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrThreadNotFound
	}
	return nil
}

// newThread validates and assembles a thread document. Shared with the
// memory store so both backends enforce one rule set.
func newThread(participants []models.Participant, propertyID string) (*models.Thread, error) {
	if len(participants) != 2 || participants[0].UserID == participants[1].UserID {
		return nil, ErrInvalidParticipants
	}
	if d := routing.Allow(participants[0].Role, participants[1].Role); !d.Allowed {
		return nil, ErrInvalidParticipants
	}

	tag := "general"
	if propertyID != "" {
		tag = "property"
	}
	now := time.Now().UTC()
	return &models.Thread{
		ID:             uuid.NewString(),
		Participants:   []models.Participant{participants[0], participants[1]},
		ParticipantKey: models.ParticipantKey(participants[0].UserID, participants[1].UserID),
		PropertyID:     propertyID,
		Tag:            tag,
		MessageCount:   0,
		UnreadCounts: map[string]int64{
			participants[0].UserID: 0,
			participants[1].UserID: 0,
		},
		Status:    models.ThreadActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

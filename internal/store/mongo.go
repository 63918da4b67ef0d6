package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/i474232898/raincheck/internal/weather"
)

const subscriptionsCollection = "subscriptions"

// MongoStore persists subscriptions as documents in MongoDB. Event writes
// update a single array element in place.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewMongoStore connects to uri, verifies the connection and ensures the
// lookup indexes exist.
func NewMongoStore(ctx context.Context, uri, dbName string, connectTimeout time.Duration, logger *slog.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect failed: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(dbName).Collection(subscriptionsCollection),
		logger:     logger,
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the indexes used by phone and event lookups.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	names, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "subscriber.phone", Value: 1}},
			Options: options.Index().SetName("subscriber_phone"),
		},
		{
			Keys:    bson.D{{Key: "events.event_id", Value: 1}},
			Options: options.Index().SetName("events_event_id"),
		},
	})
	if err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	s.logger.Info("mongo indexes ensured", "collection", s.collection.Name(), "indexes", names)
	return nil
}

// Ping reports whether the database is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateSubscription(ctx context.Context, sub weather.Subscription) error {
	if _, err := s.collection.InsertOne(ctx, toSubscriptionDoc(sub)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateID, sub.ID)
		}
		return fmt.Errorf("insert subscription %s: %w", sub.ID, err)
	}
	return nil
}

func (s *MongoStore) GetSubscription(ctx context.Context, id string) (weather.Subscription, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: id}}, "subscription "+id)
}

func (s *MongoStore) GetSubscriptionByPhone(ctx context.Context, phone string) (weather.Subscription, error) {
	return s.findOne(ctx, bson.D{{Key: "subscriber.phone", Value: phone}}, "subscription with phone "+phone)
}

func (s *MongoStore) FindSubscriptionByEvent(ctx context.Context, eventID string) (weather.Subscription, error) {
	return s.findOne(ctx, bson.D{{Key: "events.event_id", Value: eventID}}, "event "+eventID)
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D, what string) (weather.Subscription, error) {
	var doc subscriptionDoc
	err := s.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return weather.Subscription{}, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return weather.Subscription{}, fmt.Errorf("find %s: %w", what, err)
	}
	return doc.toSubscription()
}

func (s *MongoStore) ListSubscriptions(ctx context.Context) ([]weather.Subscription, error) {
	cur, err := s.collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	var docs []subscriptionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode subscriptions: %w", err)
	}

	out := make([]weather.Subscription, 0, len(docs))
	for _, doc := range docs {
		sub, err := doc.toSubscription()
		if err != nil {
			// Skip records that no longer decode instead of failing the listing.
			s.logger.Warn("skipping undecodable subscription", "subscription_id", doc.ID, "error", err)
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *MongoStore) SetSubscriber(ctx context.Context, subscriptionID string, subscriber weather.Subscriber) error {
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "subscriber", Value: toSubscriberDoc(subscriber)}}}}
	res, err := s.collection.UpdateOne(ctx, bson.D{{Key: "_id", Value: subscriptionID}}, update)
	if err != nil {
		return fmt.Errorf("update subscriber %s: %w", subscriptionID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("subscription %s: %w", subscriptionID, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) AppendEvent(ctx context.Context, subscriptionID string, ev weather.Event) error {
	update := bson.D{{Key: "$push", Value: bson.D{{Key: "events", Value: toEventDoc(ev)}}}}
	res, err := s.collection.UpdateOne(ctx, bson.D{{Key: "_id", Value: subscriptionID}}, update)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("subscription %s: %w", subscriptionID, ErrNotFound)
	}
	return nil
}

// ReplaceEvent sets the matched array element through the positional
// operator, so sibling events and the subscriber are left untouched.
func (s *MongoStore) ReplaceEvent(ctx context.Context, ev weather.Event, expectRevision int64) error {
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "events.$", Value: toEventDoc(ev)}}}}
	res, err := s.collection.UpdateOne(ctx, eventRevisionFilter(ev.ID, expectRevision), update)
	if err != nil {
		return fmt.Errorf("replace event %s: %w", ev.ID, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.collection.CountDocuments(ctx, bson.D{{Key: "events.event_id", Value: ev.ID}})
	if err != nil {
		return fmt.Errorf("replace event %s: %w", ev.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("event %s: %w", ev.ID, ErrNotFound)
	}
	return fmt.Errorf("event %s not at revision %d: %w", ev.ID, expectRevision, ErrConflict)
}

func (s *MongoStore) RemoveEvent(ctx context.Context, eventID string) error {
	update := bson.D{{Key: "$pull", Value: bson.D{{Key: "events", Value: bson.D{{Key: "event_id", Value: eventID}}}}}}
	res, err := s.collection.UpdateOne(ctx, bson.D{{Key: "events.event_id", Value: eventID}}, update)
	if err != nil {
		return fmt.Errorf("remove event %s: %w", eventID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	return nil
}

// eventRevisionFilter matches the subscription whose event eventID is at
// revision. Records written before revisions existed have no field and
// count as revision 0.
func eventRevisionFilter(eventID string, revision int64) bson.D {
	var rev any = revision
	if revision == 0 {
		rev = bson.D{{Key: "$in", Value: bson.A{int64(0), nil}}}
	}
	return bson.D{{Key: "events", Value: bson.D{{Key: "$elemMatch", Value: bson.D{
		{Key: "event_id", Value: eventID},
		{Key: "revision", Value: rev},
	}}}}}
}

func (s *MongoStore) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return nil
}

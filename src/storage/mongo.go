package storage

import (
	"context"
	"errors"
	"time"

	"content-router/src/internal/common"
	"content-router/src/routing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionRoutingConfig = "routing_config"
	CollectionDecisions     = "decisions"

	currentConfigID = "current"
)

type routingConfigRecord struct {
	ID       string                        `bson:"_id"`
	Version  string                        `bson:"version"`
	SavedAt  time.Time                     `bson:"saved_at"`
	Document routing.RoutingConfigDocument `bson:"document"`
}

type decisionRecord struct {
	ID              string                  `bson:"_id"`
	Timestamp       time.Time               `bson:"timestamp"`
	Strategy        string                  `bson:"strategy"`
	SelectedBackend string                  `bson:"selected_backend"`
	Category        string                  `bson:"category,omitempty"`
	Decision        routing.RoutingDecision `bson:"decision"`
}

// MongoStore keeps routing state and decision history in MongoDB
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects, pings and ensures indexes
func NewMongoStore(ctx context.Context, uri, database string, timeout time.Duration) (*MongoStore, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, persistenceError("mongodb", "connect", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, persistenceError("mongodb", "ping", err)
	}

	s := &MongoStore{client: client, db: client.Database(database)}
	if err := s.createIndexes(connectCtx); err != nil {
		common.StorageLogger.Warn("Failed to create MongoDB indexes: %v", err)
	}
	common.StorageLogger.Info("MongoDB connected to database %s", database)
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	_, err := s.db.Collection(CollectionDecisions).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("timestamp_desc"),
		},
		{
			Keys:    bson.D{{Key: "selected_backend", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("backend_timestamp"),
		},
	})
	return err
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) SaveRoutingConfig(ctx context.Context, doc routing.RoutingConfigDocument) error {
	record := routingConfigRecord{ID: currentConfigID, Version: doc.Version, SavedAt: time.Now().UTC(), Document: doc}
	_, err := s.db.Collection(CollectionRoutingConfig).ReplaceOne(ctx,
		bson.M{"_id": currentConfigID}, record, options.Replace().SetUpsert(true))
	return persistenceError("mongodb", "save routing config", err)
}

func (s *MongoStore) LoadRoutingConfig(ctx context.Context) (routing.RoutingConfigDocument, bool, error) {
	var record routingConfigRecord
	err := s.db.Collection(CollectionRoutingConfig).FindOne(ctx, bson.M{"_id": currentConfigID}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return routing.RoutingConfigDocument{}, false, nil
	}
	if err != nil {
		return routing.RoutingConfigDocument{}, false, persistenceError("mongodb", "load routing config", err)
	}
	return record.Document, true, nil
}

// ArchiveDecisions upserts decisions by ID in one unordered bulk write
func (s *MongoStore) ArchiveDecisions(ctx context.Context, decisions []routing.RoutingDecision) error {
	if len(decisions) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(decisions))
	for _, d := range decisions {
		record := decisionRecord{
			ID:              d.ID,
			Timestamp:       d.Timestamp,
			Strategy:        string(d.Strategy),
			SelectedBackend: d.SelectedBackend,
			Category:        string(d.Category),
			Decision:        d,
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": d.ID}).
			SetReplacement(record).
			SetUpsert(true))
	}
	_, err := s.db.Collection(CollectionDecisions).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	return persistenceError("mongodb", "archive decisions", err)
}

func (s *MongoStore) RecentDecisions(ctx context.Context, limit int) ([]routing.RoutingDecision, error) {
	if limit <= 0 {
		limit = routing.DefaultDecisionLogSize
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.db.Collection(CollectionDecisions).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, persistenceError("mongodb", "query decisions", err)
	}
	defer cursor.Close(ctx)

	var records []decisionRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, persistenceError("mongodb", "decode decisions", err)
	}
	out := make([]routing.RoutingDecision, 0, len(records))
	for _, r := range records {
		out = append(out, r.Decision)
	}
	return out, nil
}

func (s *MongoStore) BackendDecisionCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"timestamp": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{"_id": "$selected_backend", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := s.db.Collection(CollectionDecisions).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, persistenceError("mongodb", "count decisions", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Backend string `bson:"_id"`
		Count   int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, persistenceError("mongodb", "decode decision counts", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Backend] = r.Count
	}
	return counts, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leetgaming-pro/replay-minimap/internal/logging"
	"github.com/leetgaming-pro/replay-minimap/internal/replay"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for MongoDB replay repository.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. replays
	Collection string // e.g. replays
}

// MongoReplayRepo implements ReplayRepo on MongoDB backend.
// Each replay is one document keyed by its id.
type MongoReplayRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
	log        *logging.Logger
}

// NewMongoReplayRepo establishes connection and returns repository.
func NewMongoReplayRepo(cfg MongoConfig) (*MongoReplayRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "replay_minimap"
	}
	if cfg.Collection == "" {
		cfg.Collection = "replays"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	repo := &MongoReplayRepo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		ctxTimeout: 5 * time.Second,
		log:        logging.GetStorageLogger(),
	}
	if err := repo.ensureIndexes(); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	repo.log.Info("🍃 MongoDB подключена: %s.%s", cfg.Database, cfg.Collection)
	return repo, nil
}

func (m *MongoReplayRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	createdIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "created_at", Value: -1}},
		Options: options.Index().SetName("created_at_desc"),
	}
	mapIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "map_name", Value: 1}},
		Options: options.Index().SetName("map_name"),
	}
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{createdIdx, mapIdx})
	return err
}

// Save implements ReplayRepo (upsert by id).
func (m *MongoReplayRepo) Save(ctx context.Context, r *replay.Replay) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("недействительный повтор")
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": r.ID}, r, options.Replace().SetUpsert(true))
	return err
}

// Load implements ReplayRepo.
func (m *MongoReplayRepo) Load(ctx context.Context, id string) (*replay.Replay, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	var r replay.Replay
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", replay.ErrReplayNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Delete implements ReplayRepo.
func (m *MongoReplayRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	res, err := m.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount > 0 {
		m.log.Info("🗑️ Повтор %s удалён", id)
	}
	return nil
}

// List implements ReplayRepo. Frames are projected out.
func (m *MongoReplayRepo) List(ctx context.Context) ([]replay.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"frames": 0, "scoreboard": 0})
	cur, err := m.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]replay.Summary, 0)
	for cur.Next(ctx) {
		var r replay.Replay
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r.Summary())
	}
	return out, cur.Err()
}

// Close disconnects the client.
func (m *MongoReplayRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

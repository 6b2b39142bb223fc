package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matzehuels/cratestatus/pkg/analysis"
	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/project"
)

// Collection holds archived results.
const Collection = "results"

// MongoConfig configures a [Mongo] archive.
type MongoConfig struct {
	URI      string
	Database string
	// Timeout bounds connecting and each operation. Zero means 10s.
	Timeout time.Duration
}

// Mongo archives results in a MongoDB collection, one document per
// computed result.
type Mongo struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
}

// record is the stored document. The result itself is kept as JSON so the
// API can serve it byte-for-byte.
type record struct {
	Identity   string    `bson:"identity"`
	Key        string    `bson:"key"`
	Severity   string    `bson:"severity"`
	ComputedAt time.Time `bson:"computed_at"`
	Stale      bool      `bson:"stale"`
	Result     []byte    `bson:"result"`
}

// NewMongo connects to MongoDB, verifies the connection and ensures the
// lookup index exists.
func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, apperr.New(apperr.ErrCodeInvalidInput, "mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "cratestatus"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(Collection)
	_, err = coll.Indexes().CreateOne(cctx, mongo.IndexModel{
		Keys: bson.D{{Key: "identity", Value: 1}, {Key: "computed_at", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo create index: %w", err)
	}
	return &Mongo{client: client, coll: coll, timeout: cfg.Timeout}, nil
}

func (m *Mongo) Append(ctx context.Context, r *analysis.Result) error {
	if r == nil {
		return apperr.New(apperr.ErrCodeInvalidInput, "nil result")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err = m.coll.InsertOne(ctx, record{
		Identity:   r.Identity.String(),
		Key:        r.Key,
		Severity:   r.Summary.Severity.String(),
		ComputedAt: r.ComputedAt,
		Stale:      r.Stale,
		Result:     data,
	})
	if err != nil {
		return fmt.Errorf("mongo insert: %w", err)
	}
	return nil
}

func (m *Mongo) Latest(ctx context.Context, id project.Identity) (*analysis.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var rec record
	err := m.coll.FindOne(ctx,
		bson.M{"identity": id.String()},
		options.FindOne().SetSort(bson.D{{Key: "computed_at", Value: -1}}),
	).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.New(apperr.ErrCodeNotFound, "no archived result for %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo find: %w", err)
	}

	var r analysis.Result
	if err := json.Unmarshal(rec.Result, &r); err != nil {
		return nil, fmt.Errorf("decode archived result: %w", err)
	}
	return &r, nil
}

// Close disconnects from MongoDB.
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

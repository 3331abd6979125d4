package memory

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/orpar-labs/orpar-core/internal/core"
)

// MongoDurable implements Durable against a MongoDB collection, keyed by
// memoryId with secondary indexes on (scope, targetId, key) and a vector
// index on embedding (spec §6 "Persisted state layout"). It satisfies the
// spec's requirement that the embedding/search backend stay an external
// collaborator: this type only persists MemoryItem rows, it never computes
// embeddings or similarity itself.
type MongoDurable struct {
	coll *mongo.Collection
}

// NewMongoDurable wires a Durable backed by the given collection. Callers are
// responsible for creating the (scope,targetId,key) and vector indexes out of
// band (see EnsureIndexes).
func NewMongoDurable(coll *mongo.Collection) *MongoDurable {
	return &MongoDurable{coll: coll}
}

// EnsureIndexes creates the secondary indexes described in spec §6. The
// vector index itself is backend-specific (Atlas Search / vector search) and
// is left to deployment-time configuration; this only creates the
// lookup-shape compound index.
func (d *MongoDurable) EnsureIndexes(ctx context.Context) error {
	_, err := d.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "scope", Value: 1},
			{Key: "channelId", Value: 1},
			{Key: "agentId", Value: 1},
			{Key: "key", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("memory: ensure indexes: %w", err)
	}
	return nil
}

type mongoItem struct {
	MemoryID       string    `bson:"_id"`
	Scope          string    `bson:"scope"`
	Stratum        string    `bson:"stratum"`
	Key            string    `bson:"key"`
	Value          any       `bson:"value"`
	Embedding      []float32 `bson:"embedding,omitempty"`
	QValue         float64   `bson:"qValue"`
	AccessCount    int       `bson:"accessCount"`
	LastAccessedAt int64     `bson:"lastAccessedAt"`
	CreatedAt      int64     `bson:"createdAt"`
	SuccessCount   int       `bson:"successCount"`
	FailureCount   int       `bson:"failureCount"`
	ChannelID      string    `bson:"channelId"`
	AgentID        string    `bson:"agentId"`
}

// Upsert implements Durable.
func (d *MongoDurable) Upsert(ctx context.Context, item *core.MemoryItem) error {
	doc := mongoItem{
		MemoryID:       item.MemoryID,
		Scope:          string(item.Scope),
		Stratum:        string(item.Stratum),
		Key:            item.Key,
		Value:          item.Value,
		Embedding:      item.Embedding,
		QValue:         item.QValue,
		AccessCount:    item.AccessCount,
		LastAccessedAt: item.LastAccessedAt.Unix(),
		CreatedAt:      item.CreatedAt.Unix(),
		SuccessCount:   item.SuccessCount,
		FailureCount:   item.FailureCount,
		ChannelID:      item.ChannelID,
		AgentID:        item.AgentID,
	}
	opts := options.Replace().SetUpsert(true)
	_, err := d.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: item.MemoryID}}, doc, opts)
	if err != nil {
		return fmt.Errorf("memory: mongo upsert: %w", err)
	}
	return nil
}

// Delete implements Durable.
func (d *MongoDurable) Delete(ctx context.Context, memoryID string) error {
	_, err := d.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: memoryID}})
	if err != nil {
		return fmt.Errorf("memory: mongo delete: %w", err)
	}
	return nil
}

package vectorstore

import (
	"context"
	"fmt"
	"os"
	"time"

	qdrant "github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"

	"profile-indexer/domain"
)

// Payload fields stored with every point.
const (
	fieldProfileID      = "profile_id"
	fieldFingerprint    = "fingerprint"
	fieldEncoderVersion = "encoder_version"
	fieldUpdatedAt      = "updated_at"
)

const scrollPageSize = 256

// QdrantConfig selects the Qdrant collection that holds the dedicated index.
type QdrantConfig struct {
	Addr       string
	Collection string
	Dimension  int
}

// QdrantClient implements the domain.IndexStore interface using Qdrant. Each
// profile is one point whose numeric id is the profile id.
type QdrantClient struct {
	client         qdrant.PointsClient
	conn           *grpc.ClientConn
	collectionName string
	dimension      int
	log            zerolog.Logger
}

var (
	_ domain.IndexStore   = (*QdrantClient)(nil)
	_ domain.VectorScorer = (*QdrantClient)(nil)
)

// NewQdrantClient creates a new QdrantClient.
// Empty fields of cfg fall back to the QDRANT_ADDR and QDRANT_COLLECTION_NAME
// environment variables and then to defaults.
func NewQdrantClient(ctx context.Context, cfg QdrantConfig, logger zerolog.Logger) (*QdrantClient, error) {
	log := logger.With().Str("component", "qdrant").Logger()
	qdrantAddr := cfg.Addr
	if qdrantAddr == "" {
		qdrantAddr = os.Getenv("QDRANT_ADDR")
	}
	if qdrantAddr == "" {
		qdrantAddr = "localhost:6334"
		log.Info().Str("addr", qdrantAddr).Msg("QDRANT_ADDR not set, using default")
	}
	collectionName := cfg.Collection
	if collectionName == "" {
		collectionName = os.Getenv("QDRANT_COLLECTION_NAME")
	}
	if collectionName == "" {
		collectionName = "profile_embeddings"
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant collection %s: dimension must be positive", collectionName)
	}

	conn, err := grpc.NewClient(qdrantAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("could not connect to Qdrant: %w", err)
	}

	client := &QdrantClient{
		client:         qdrant.NewPointsClient(conn),
		conn:           conn,
		collectionName: collectionName,
		dimension:      cfg.Dimension,
		log:            log,
	}

	if err := client.ensureCollectionExists(ctx, qdrant.NewCollectionsClient(conn), uint64(cfg.Dimension)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ensure collection exists: %w", err)
	}
	return client, nil
}

// Close releases the gRPC connection.
func (c *QdrantClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// ensureCollectionExists checks if the collection exists and creates it with
// cosine distance if it doesn't.
func (c *QdrantClient) ensureCollectionExists(ctx context.Context, collectionsClient qdrant.CollectionsClient, vectorSize uint64) error {
	_, err := collectionsClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: c.collectionName,
	})
	if err == nil {
		return nil
	}

	c.log.Info().Str("collection", c.collectionName).Uint64("size", vectorSize).Msg("collection does not exist, creating")
	_, err = collectionsClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: c.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Get returns the profile's point.
func (c *QdrantClient) Get(ctx context.Context, profileID int64) (domain.IndexEntry, bool, error) {
	entries, err := c.GetMany(ctx, []int64{profileID})
	if err != nil {
		return domain.IndexEntry{}, false, err
	}
	e, ok := entries[profileID]
	return e, ok, nil
}

// GetMany fetches the points for ids in one request.
func (c *QdrantClient) GetMany(ctx context.Context, profileIDs []int64) (map[int64]domain.IndexEntry, error) {
	out := make(map[int64]domain.IndexEntry, len(profileIDs))
	if len(profileIDs) == 0 {
		return out, nil
	}
	ids := make([]*qdrant.PointId, len(profileIDs))
	for i, id := range profileIDs {
		ids[i] = pointID(id)
	}

	resp, err := c.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: c.collectionName,
		Ids:            ids,
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get points from Qdrant: %w", err)
	}
	for _, p := range resp.GetResult() {
		e := entryFromPayload(p.GetId(), p.GetPayload())
		e.Vector = domain.Embedding(p.GetVectors().GetVector().GetData())
		out[e.ProfileID] = e
	}
	return out, nil
}

// Upsert replaces the profile's point.
func (c *QdrantClient) Upsert(ctx context.Context, entry domain.IndexEntry) error {
	payload, err := mapToPayload(entryPayload(entry))
	if err != nil {
		return fmt.Errorf("failed to convert payload for profile %d: %w", entry.ProfileID, err)
	}

	_, err = c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.collectionName,
		Points: []*qdrant.PointStruct{{
			Id:      pointID(entry.ProfileID),
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: entry.Vector}}},
			Payload: payload,
		}},
		Wait: proto.Bool(true), // ensure writes are acknowledged
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point to Qdrant: %w", err)
	}
	return nil
}

// Delete removes the profile's point. Deleting a missing point succeeds.
func (c *QdrantClient) Delete(ctx context.Context, profileID int64) error {
	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.collectionName,
		Wait:           proto.Bool(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{pointID(profileID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete point from Qdrant: %w", err)
	}
	return nil
}

func (c *QdrantClient) Count(ctx context.Context) (int, error) {
	resp, err := c.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: c.collectionName,
		Exact:          proto.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points in Qdrant: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// CountByVersion scrolls the collection reading only the encoder version.
func (c *QdrantClient) CountByVersion(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	var offset *qdrant.PointId
	for {
		resp, err := c.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: c.collectionName,
			Offset:         offset,
			Limit:          proto.Uint32(scrollPageSize),
			WithPayload: &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Include{
				Include: &qdrant.PayloadIncludeSelector{Fields: []string{fieldEncoderVersion}},
			}},
			WithVectors: &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: false}},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points in Qdrant: %w", err)
		}
		for _, p := range resp.GetResult() {
			counts[p.GetPayload()[fieldEncoderVersion].GetStringValue()]++
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return counts, nil
		}
	}
}

// ScoreAmong runs a similarity search restricted to the listed points. The
// collection has one fixed dimension, so a query of another dimension scores
// nothing.
func (c *QdrantClient) ScoreAmong(ctx context.Context, query domain.Embedding, profileIDs []int64) (map[int64]float64, error) {
	scores := make(map[int64]float64, len(profileIDs))
	if len(profileIDs) == 0 || len(query) != c.dimension {
		return scores, nil
	}
	ids := make([]*qdrant.PointId, len(profileIDs))
	for i, id := range profileIDs {
		ids[i] = pointID(id)
	}

	searchRequest := &qdrant.SearchPoints{
		CollectionName: c.collectionName,
		Vector:         query,
		Limit:          uint64(len(profileIDs)),
		Filter: &qdrant.Filter{Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_HasId{HasId: &qdrant.HasIdCondition{HasId: ids}},
		}}},
		WithPayload: &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: false}},
	}
	searchResult, err := c.client.Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search points in Qdrant: %w", err)
	}
	for _, p := range searchResult.GetResult() {
		if num, ok := p.GetId().GetPointIdOptions().(*qdrant.PointId_Num); ok {
			scores[int64(num.Num)] = float64(p.GetScore())
		}
	}
	return scores, nil
}

func pointID(profileID int64) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: uint64(profileID)}}
}

func entryPayload(e domain.IndexEntry) map[string]interface{} {
	return map[string]interface{}{
		fieldProfileID:      e.ProfileID,
		fieldFingerprint:    string(e.Fingerprint),
		fieldEncoderVersion: e.EncoderVersion,
		fieldUpdatedAt:      e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// entryFromPayload rebuilds everything but the vector from a point.
func entryFromPayload(id *qdrant.PointId, payload map[string]*qdrant.Value) domain.IndexEntry {
	e := domain.IndexEntry{
		ProfileID:      payload[fieldProfileID].GetIntegerValue(),
		Fingerprint:    domain.Fingerprint(payload[fieldFingerprint].GetStringValue()),
		EncoderVersion: payload[fieldEncoderVersion].GetStringValue(),
	}
	if num, ok := id.GetPointIdOptions().(*qdrant.PointId_Num); ok {
		e.ProfileID = int64(num.Num)
	}
	if ts := payload[fieldUpdatedAt].GetStringValue(); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.UpdatedAt = t
		}
	}
	return e
}

// Helper function to convert interface{} map to map[string]*qdrant.Value
func mapToPayload(data map[string]interface{}) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value)
	for key, val := range data {
		switch v := val.(type) {
		case string:
			payload[key] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		case int:
			payload[key] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(v)}}
		case int64:
			payload[key] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: v}}
		case float64:
			payload[key] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: v}}
		case bool:
			payload[key] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: v}}
		default:
			return nil, fmt.Errorf("unsupported type for payload field '%s': %T", key, v)
		}
	}
	return payload, nil
}

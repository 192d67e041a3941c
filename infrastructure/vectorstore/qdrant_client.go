package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"code-query-agent/domain"

	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// documentKey is the payload field holding the chunk text.
const documentKey = "document"

// QdrantClient implements the domain.VectorStore interface using Qdrant.
// Every repository maps to its own Qdrant collection.
type QdrantClient struct {
	conn        *grpc.ClientConn
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	vectorSize  uint64
	logger      *slog.Logger

	mu    sync.Mutex
	known map[string]bool
}

// Compile-time check that QdrantClient implements domain.VectorStore.
var _ domain.VectorStore = (*QdrantClient)(nil)

// NewQdrantClient connects to the Qdrant gRPC endpoint at addr. New
// collections are created with vectorSize dimensions and cosine distance.
func NewQdrantClient(addr string, vectorSize int, logger *slog.Logger) (*QdrantClient, error) {
	if addr == "" {
		addr = "localhost:6334"
	}
	if vectorSize <= 0 {
		return nil, fmt.Errorf("invalid vector size %d", vectorSize)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("could not connect to Qdrant: %w", err)
	}
	return NewQdrantClientFromConn(conn, vectorSize, logger)
}

// NewQdrantClientFromConn builds a client on an existing connection, which
// the client owns and closes.
func NewQdrantClientFromConn(conn *grpc.ClientConn, vectorSize int, logger *slog.Logger) (*QdrantClient, error) {
	if vectorSize <= 0 {
		return nil, fmt.Errorf("invalid vector size %d", vectorSize)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &QdrantClient{
		conn:        conn,
		points:      qdrant.NewPointsClient(conn),
		collections: qdrant.NewCollectionsClient(conn),
		vectorSize:  uint64(vectorSize),
		logger:      logger,
		known:       make(map[string]bool),
	}, nil
}

// GetOrCreateCollection checks if the collection exists and creates it if it doesn't.
func (c *QdrantClient) GetOrCreateCollection(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known[name] {
		return nil
	}

	_, err := c.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: name,
	})
	if err != nil {
		if status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to get collection %s: %w", name, err)
		}

		c.logger.Info("creating collection", slog.String("collection", name), slog.Uint64("size", c.vectorSize))
		_, err = c.collections.Create(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     c.vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		// A concurrent creator may have won the race.
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
	}

	c.known[name] = true
	return nil
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

// payloadToMap converts a Qdrant payload back into plain Go values.
func payloadToMap(payload map[string]*qdrant.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for key, val := range payload {
		switch kind := val.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[key] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			out[key] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[key] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			out[key] = kind.BoolValue
		}
	}
	return out
}

// scoreToDistance converts a cosine similarity score into a distance where
// smaller means closer.
func scoreToDistance(score float32) float64 {
	return 1 - float64(score)
}

// Add upserts records into the Qdrant collection.
func (c *QdrantClient) Add(ctx context.Context, collection string, records []domain.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	keys := domain.AssignRecordKeys(collection, records)
	points := make([]*qdrant.PointStruct, 0, len(records))
	for i, r := range records {
		if len(r.Embedding) == 0 {
			return fmt.Errorf("record %s has no embedding", keys[i].ChunkID)
		}

		payloadMap := domain.StoredMetadata(r, keys[i])
		payloadMap[documentKey] = r.Text

		qdrantPayload, err := mapToPayload(payloadMap)
		if err != nil {
			return fmt.Errorf("failed to convert payload for %s: %w", keys[i].ChunkID, err)
		}

		points = append(points, &qdrant.PointStruct{
			Id:      &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: keys[i].PointID}},
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: r.Embedding}}},
			Payload: qdrantPayload,
		})
	}

	_, err := c.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           proto.Bool(true), // ensure writes are acknowledged
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points to Qdrant: %w", err)
	}

	return nil
}

// Query searches for records similar to the given embedding.
func (c *QdrantClient) Query(ctx context.Context, collection string, embedding domain.Embedding, k int) (domain.QueryResult, error) {
	if k <= 0 {
		return domain.NewQueryResult(0), nil
	}

	searchResult, err := c.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         embedding,
		Limit:          uint64(k),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("%w: %s: %w", domain.ErrCollectionQueryFailure, collection, err)
	}

	hits := searchResult.GetResult()
	result := domain.NewQueryResult(len(hits))
	for _, hit := range hits {
		metadata := payloadToMap(hit.GetPayload())
		document, _ := metadata[documentKey].(string)
		delete(metadata, documentKey)
		result.Append(document, metadata, scoreToDistance(hit.GetScore()))
	}

	return result, nil
}

// Count returns the exact number of points in the collection.
func (c *QdrantClient) Count(ctx context.Context, collection string) (int, error) {
	resp, err := c.points.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          proto.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points in %s: %w", collection, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Close closes the gRPC connection.
func (c *QdrantClient) Close() error {
	return c.conn.Close()
}

package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/codectx-dev/codectx/internal/logger"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"

	payloadPath      = "relativePath"
	payloadStartLine = "startLine"
	payloadEndLine   = "endLine"
	payloadLanguage  = "language"
	payloadExtension = "fileExtension"
)

// QdrantConfig configures the Qdrant adapter.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Hybrid     bool
	Dimensions int
	Timeout    time.Duration
}

// Qdrant implements Store over the Qdrant gRPC API.
//
// Qdrant has no collection rename; RenameCollection is realized with an
// alias from the new name to the old collection, which keeps the data
// reachable under both names and is idempotent.
type Qdrant struct {
	client *qdrant.Client
	cfg    QdrantConfig
	log    *logger.Logger
}

// NewQdrant connects to a Qdrant instance.
func NewQdrant(cfg QdrantConfig, log *logger.Logger) (*Qdrant, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(64 * 1024 * 1024)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Qdrant{client: client, cfg: cfg, log: log}, nil
}

func (q *Qdrant) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, q.cfg.Timeout)
}

// EnsureCollection creates the collection if it does not exist.
func (q *Qdrant) EnsureCollection(ctx context.Context, name string) error {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("collection exists check: %w", err)
	}
	if exists {
		return nil
	}

	create := &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(q.cfg.Dimensions),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	}
	if q.cfg.Hybrid {
		create.SparseVectorsConfig = qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		})
	}
	if err := q.client.CreateCollection(ctx, create); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	q.log.Info("created collection", "name", name, "hybrid", q.cfg.Hybrid)
	return nil
}

// DropCollection removes the collection.
func (q *Qdrant) DropCollection(ctx context.Context, name string) error {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()
	if err := q.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("drop collection %s: %w", name, err)
	}
	return nil
}

// HasCollection reports whether name resolves to data: a real collection or
// a migration alias.
func (q *Qdrant) HasCollection(ctx context.Context, name string) (bool, error) {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}

	aliases, err := q.client.ListAliases(ctx)
	if err != nil {
		return false, err
	}
	for _, alias := range aliases {
		if alias.GetAliasName() == name {
			return true, nil
		}
	}
	return false, nil
}

// ListCollections enumerates collections and migration aliases.
func (q *Qdrant) ListCollections(ctx context.Context) ([]string, error) {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	names, err := q.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	aliases, err := q.client.ListAliases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, alias := range aliases {
		if !seen[alias.GetAliasName()] {
			names = append(names, alias.GetAliasName())
			seen[alias.GetAliasName()] = true
		}
	}
	return names, nil
}

// RenameCollection aliases newName to oldName's collection.
func (q *Qdrant) RenameCollection(ctx context.Context, oldName, newName string) error {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()
	if err := q.client.CreateAlias(ctx, newName, oldName); err != nil {
		return fmt.Errorf("alias %s -> %s: %w", newName, oldName, err)
	}
	return nil
}

// Upsert writes chunks into the collection.
func (q *Qdrant) Upsert(ctx context.Context, collection string, chunks []Chunk) error {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		vectors := map[string]*qdrant.Vector{
			denseVectorName: qdrant.NewVectorDense(c.Dense),
		}
		if q.cfg.Hybrid && len(c.SparseIndices) > 0 {
			vectors[sparseVectorName] = qdrant.NewVectorSparse(c.SparseIndices, c.SparseValues)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(c.ID),
			Vectors: qdrant.NewVectorsMap(vectors),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadPath:      c.RelativePath,
				payloadStartLine: int64(c.StartLine),
				payloadEndLine:   int64(c.EndLine),
				payloadLanguage:  c.Language,
				payloadExtension: c.FileExtension,
			}),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// DeletePaths removes every chunk belonging to the given relative paths.
func (q *Qdrant) DeletePaths(ctx context.Context, collection string, relativePaths []string) error {
	if len(relativePaths) == 0 {
		return nil
	}
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	conditions := make([]*qdrant.Condition, 0, len(relativePaths))
	for _, p := range relativePaths {
		conditions = append(conditions, qdrant.NewMatch(payloadPath, p))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Should: conditions,
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete paths from %s: %w", collection, err)
	}
	return nil
}

// Search runs a hybrid (dense+sparse fusion) or dense-only query.
func (q *Qdrant) Search(ctx context.Context, collection string, query Query) ([]ScoredChunk, error) {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(uint64(query.Limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if filter := extensionFilter(query.Extensions); filter != nil {
		req.Filter = filter
	}

	if q.cfg.Hybrid && len(query.SparseIndices) > 0 {
		prefetchLimit := qdrant.PtrOf(uint64(query.Limit * 2))
		req.Prefetch = []*qdrant.PrefetchQuery{
			{
				Query:  qdrant.NewQueryDense(query.Dense),
				Using:  qdrant.PtrOf(denseVectorName),
				Limit:  prefetchLimit,
				Filter: req.Filter,
			},
			{
				Query:  qdrant.NewQuerySparse(query.SparseIndices, query.SparseValues),
				Using:  qdrant.PtrOf(sparseVectorName),
				Limit:  prefetchLimit,
				Filter: req.Filter,
			},
		}
		req.Query = qdrant.NewQueryFusion(qdrant.Fusion_RRF)
	} else {
		req.Query = qdrant.NewQueryDense(query.Dense)
		req.Using = qdrant.PtrOf(denseVectorName)
	}

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	out := make([]ScoredChunk, 0, len(points))
	for _, sp := range points {
		payload := sp.GetPayload()
		out = append(out, ScoredChunk{
			ID:            pointID(sp.GetId()),
			Score:         float64(sp.GetScore()),
			RelativePath:  payload[payloadPath].GetStringValue(),
			StartLine:     int(payload[payloadStartLine].GetIntegerValue()),
			EndLine:       int(payload[payloadEndLine].GetIntegerValue()),
			Language:      payload[payloadLanguage].GetStringValue(),
			FileExtension: payload[payloadExtension].GetStringValue(),
		})
	}
	return out, nil
}

func extensionFilter(extensions []string) *qdrant.Filter {
	if len(extensions) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(extensions))
	for _, ext := range extensions {
		conditions = append(conditions, qdrant.NewMatch(payloadExtension, ext))
	}
	return &qdrant.Filter{Should: conditions}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

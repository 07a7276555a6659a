// Package qdrant stores the catalog in a Qdrant collection and delegates
// similarity search to it.
package qdrant

import (
	"context"
	"fmt"
	"math"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/efebarandurmaz/pokedex/internal/observability"
	"github.com/efebarandurmaz/pokedex/internal/vector"
)

const (
	payloadName = "name"
	scrollPage  = 256
	// thresholdSlack widens the float32 score threshold so rounding never
	// drops a record; the strict cut is reapplied by vector.Finalize.
	thresholdSlack = 1e-6
	// tieHeadroom is the number of points fetched past the limit so a
	// tie at the boundary usually resolves in one round trip.
	tieHeadroom = 8
)

// Repository implements vector.Searcher, vector.Catalog and vector.Upserter
// on top of a Qdrant collection using cosine distance.
type Repository struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	health      pb.QdrantClient
	collection  string
	dimension   int
}

// New creates a Qdrant-backed repository. The connection is lazy; call
// Health or EnsureCollection to verify it.
func New(host string, port int, collection string, dimension int) (*Repository, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	r := newRepository(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, dimension)
	r.conn = conn
	r.health = pb.NewQdrantClient(conn)
	return r, nil
}

func newRepository(points pb.PointsClient, collections pb.CollectionsClient, collection string, dimension int) *Repository {
	return &Repository{
		points:      points,
		collections: collections,
		collection:  collection,
		dimension:   dimension,
	}
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist yet.
func (r *Repository) EnsureCollection(ctx context.Context) error {
	list, err := r.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return storeErr("list collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == r.collection {
			return nil
		}
	}
	if r.dimension <= 0 {
		return fmt.Errorf("qdrant: collection %q needs a positive dimension", r.collection)
	}
	_, err = r.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: uint64(r.dimension), Distance: pb.Distance_Cosine},
		}},
	})
	if err != nil {
		return storeErr("create collection", err)
	}
	return nil
}

// Upsert writes records as points keyed by their numeric ID.
func (r *Repository) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(records))
	for i, rec := range records {
		p, err := pointFromRecord(rec)
		if err != nil {
			return err
		}
		points[i] = p
	}

	wait := true
	_, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return storeErr("upsert", err)
	}
	return nil
}

// Search implements vector.Searcher.
func (r *Repository) Search(ctx context.Context, q vector.Query) ([]vector.Match, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if r.dimension > 0 && len(q.Vector) != r.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d",
			vector.ErrDimensionMismatch, len(q.Vector), r.dimension)
	}

	ctx, span := observability.StartStrategySpan(ctx, "qdrant")
	defer span.End()

	points, err := r.searchThroughTies(ctx, q)
	if err != nil {
		err = storeErr("search", err)
		observability.RecordError(span, err)
		return nil, err
	}

	matches := make([]vector.Match, 0, len(points))
	for _, pt := range points {
		matches = append(matches, matchFromScored(pt))
	}
	return vector.Finalize(matches, q.MaxDistance, q.Limit), nil
}

// searchThroughTies runs an exact search and widens the request until the
// points tied with the last one inside the limit are all present. Qdrant
// orders equal scores arbitrarily, so cutting at the limit could drop a
// lower id that the (distance, id) order keeps.
func (r *Repository) searchThroughTies(ctx context.Context, q vector.Query) ([]*pb.ScoredPoint, error) {
	exact := true
	fetch := q.Limit + tieHeadroom
	for {
		resp, err := r.points.Search(ctx, &pb.SearchPoints{
			CollectionName: r.collection,
			Vector:         q.Vector,
			Limit:          uint64(fetch),
			ScoreThreshold: scoreThreshold(q.MaxDistance),
			Params:         &pb.SearchParams{Exact: &exact},
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, err
		}
		result := resp.GetResult()
		if !tiesCut(result, q.Limit, fetch) {
			return result, nil
		}
		fetch *= 2
	}
}

// tiesCut reports whether a full page may have cut a run of scores equal to
// the one at position limit-1.
func tiesCut(result []*pb.ScoredPoint, limit, fetch int) bool {
	if len(result) < fetch || len(result) < limit {
		return false
	}
	boundary := result[limit-1].GetScore()
	return result[len(result)-1].GetScore() >= boundary
}

// Records implements vector.Catalog by scrolling the whole collection.
// Points come back ordered by ID.
func (r *Repository) Records(ctx context.Context) ([]vector.Record, error) {
	var (
		out    []vector.Record
		offset *pb.PointId
	)
	limit := uint32(scrollPage)
	for {
		resp, err := r.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: r.collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, storeErr("scroll", err)
		}
		for _, pt := range resp.GetResult() {
			out = append(out, vector.Record{
				ID:        int64(pt.GetId().GetNum()),
				Name:      pt.GetPayload()[payloadName].GetStringValue(),
				Embedding: pt.GetVectors().GetVector().GetData(),
			})
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return out, nil
		}
	}
}

// Health checks that the Qdrant server answers.
func (r *Repository) Health(ctx context.Context) error {
	if _, err := r.health.HealthCheck(ctx, &pb.HealthCheckRequest{}); err != nil {
		return storeErr("health", err)
	}
	return nil
}

func (r *Repository) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func pointFromRecord(rec vector.Record) (*pb.PointStruct, error) {
	if rec.ID < 0 {
		return nil, fmt.Errorf("qdrant: record id %d must be non-negative", rec.ID)
	}
	if len(rec.Embedding) == 0 {
		return nil, fmt.Errorf("qdrant: record %d has no embedding", rec.ID)
	}
	return &pb.PointStruct{
		Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(rec.ID)}},
		Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: rec.Embedding}}},
		Payload: map[string]*pb.Value{
			payloadName: {Kind: &pb.Value_StringValue{StringValue: rec.Name}},
		},
	}, nil
}

// matchFromScored converts a cosine similarity score into a distance.
func matchFromScored(pt *pb.ScoredPoint) vector.Match {
	d := 1 - float64(pt.GetScore())
	return vector.Match{
		ID:       int64(pt.GetId().GetNum()),
		Name:     pt.GetPayload()[payloadName].GetStringValue(),
		Distance: math.Min(2, math.Max(0, d)),
	}
}

// scoreThreshold maps a distance bound onto Qdrant's inclusive minimum
// score. Bounds of 2 or more admit every point, so no threshold is sent.
func scoreThreshold(maxDistance float64) *float32 {
	if maxDistance >= 2 {
		return nil
	}
	t := float32(1 - maxDistance - thresholdSlack)
	return &t
}

// storeErr maps transport failures to vector.ErrStoreUnavailable and
// dimension rejections to vector.ErrDimensionMismatch.
func storeErr(op string, err error) error {
	if s, ok := status.FromError(err); ok && s.Code() == codes.InvalidArgument {
		return fmt.Errorf("qdrant %s: %w: %s", op, vector.ErrDimensionMismatch, s.Message())
	}
	return fmt.Errorf("qdrant %s: %w: %w", op, vector.ErrStoreUnavailable, err)
}

var (
	_ vector.Searcher = (*Repository)(nil)
	_ vector.Catalog  = (*Repository)(nil)
	_ vector.Upserter = (*Repository)(nil)
)

package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/assay/internal/config"
	"github.com/okian/assay/internal/domain/model"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const scrollPageSize = 256

// Payload keys.
const (
	payloadSubmissionID = "submission_id"
	payloadSeq          = "seq"
	payloadTitle        = "title"
	payloadAbstract     = "abstract"
	payloadFormulas     = "formulas"
	payloadConstants    = "constants"
	payloadEmbedding    = "embedding"
	payloadArchivedAt   = "archived_at"
)

// archiveNamespace derives stable point ids from submission ids.
var archiveNamespace = uuid.MustParse("6f1d8a52-3c1e-4f0b-9b7a-2d4c5e6f7a80")

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantArchive implements ArchiveStore on a Qdrant collection. Features and
// the full-precision embedding live in the point payload.
type QdrantArchive struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dimension   int
	mu          sync.Mutex
	lastSeq     int64
	appendMu    sync.Mutex // serializes lookup then upsert in Append
	now         func() time.Time
}

// NewQdrantArchive dials Qdrant. TLS is used when an API key is set or
// UseTLS is true.
func NewQdrantArchive(cfg config.ArchiveConfig) (*QdrantArchive, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	a := newQdrantArchive(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), cfg.Collection, cfg.VectorSize)
	a.conn = conn
	return a, nil
}

func newQdrantArchive(points pb.PointsClient, collections pb.CollectionsClient, collection string, dimension int) *QdrantArchive {
	return &QdrantArchive{
		points:      points,
		collections: collections,
		collection:  collection,
		dimension:   dimension,
		now:         time.Now,
	}
}

// Close closes the gRPC connection.
func (a *QdrantArchive) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

// EnsureCollection creates the collection when missing.
func (a *QdrantArchive) EnsureCollection(ctx context.Context) error {
	if _, err := a.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: a.collection}); err == nil {
		return nil
	}
	_, err := a.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: a.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(a.dimension),
					Distance: pb.Distance_Euclid,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func pointID(submissionID string) *pb.PointId {
	return &pb.PointId{
		PointIdOptions: &pb.PointId_Uuid{
			Uuid: uuid.NewSHA1(archiveNamespace, []byte(submissionID)).String(),
		},
	}
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

// nextSeq returns a strictly increasing sequence number.
func (a *QdrantArchive) nextSeq() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	seq := a.now().UnixNano()
	if seq <= a.lastSeq {
		seq = a.lastSeq + 1
	}
	a.lastSeq = seq
	return seq
}

// Append upserts an entry unless the submission is already archived. An
// archived point is never overwritten by this process.
func (a *QdrantArchive) Append(ctx context.Context, e model.ArchivedEntry) (model.ArchivedEntry, error) {
	a.appendMu.Lock()
	defer a.appendMu.Unlock()

	id := pointID(e.SubmissionID)
	existing, err := a.points.Get(ctx, &pb.GetPoints{
		CollectionName: a.collection,
		Ids:            []*pb.PointId{id},
	})
	if err != nil {
		return model.ArchivedEntry{}, fmt.Errorf("archive lookup %s: %w", e.SubmissionID, err)
	}
	if len(existing.GetResult()) > 0 {
		return model.ArchivedEntry{}, fmt.Errorf("archive %s: %w", e.SubmissionID, ErrDuplicateArchiveEntry)
	}

	e.Seq = a.nextSeq()
	if e.ArchivedAt.IsZero() {
		e.ArchivedAt = a.now()
	}
	_, err = a.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: a.collection,
		Points: []*pb.PointStruct{{
			Id: id,
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: a.vector(e.Embedding)}},
			},
			Payload: entryPayload(e),
		}},
	})
	if err != nil {
		return model.ArchivedEntry{}, fmt.Errorf("failed to upsert point: %w", err)
	}
	return e, nil
}

// vector fits an embedding to the collection dimension; a missing or
// mismatched embedding indexes as the zero vector.
func (a *QdrantArchive) vector(embedding []float64) []float32 {
	out := make([]float32, a.dimension)
	if len(embedding) != a.dimension {
		return out
	}
	for i, v := range embedding {
		out[i] = float32(v)
	}
	return out
}

// Entries scrolls the whole collection and orders entries by sequence.
func (a *QdrantArchive) Entries(ctx context.Context) ([]model.ArchivedEntry, error) {
	limit := uint32(scrollPageSize)
	var (
		out    []model.ArchivedEntry
		offset *pb.PointId
	)
	for {
		resp, err := a.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: a.collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    withPayload(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll archive: %w", err)
		}
		for _, p := range resp.GetResult() {
			out = append(out, parseEntry(p.GetPayload()))
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Count returns the number of points in the collection.
func (a *QdrantArchive) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := a.points.Count(ctx, &pb.CountPoints{CollectionName: a.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("failed to count archive: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func stringsToValue(items []string) *pb.Value {
	values := make([]*pb.Value, len(items))
	for i, s := range items {
		values[i] = stringValue(s)
	}
	return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
}

func floatsToValue(items []float64) *pb.Value {
	values := make([]*pb.Value, len(items))
	for i, f := range items {
		values[i] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: f}}
	}
	return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
}

func entryPayload(e model.ArchivedEntry) map[string]*pb.Value {
	return map[string]*pb.Value{
		payloadSubmissionID: stringValue(e.SubmissionID),
		payloadSeq:          {Kind: &pb.Value_IntegerValue{IntegerValue: e.Seq}},
		payloadTitle:        stringValue(e.Title),
		payloadAbstract:     stringValue(e.Features.Abstract),
		payloadFormulas:     stringsToValue(e.Features.Formulas),
		payloadConstants:    stringsToValue(e.Features.Constants),
		payloadEmbedding:    floatsToValue(e.Embedding),
		payloadArchivedAt:   stringValue(e.ArchivedAt.UTC().Format(time.RFC3339Nano)),
	}
}

func parseEntry(payload map[string]*pb.Value) model.ArchivedEntry {
	var e model.ArchivedEntry
	e.SubmissionID = payload[payloadSubmissionID].GetStringValue()
	e.Seq = payload[payloadSeq].GetIntegerValue()
	e.Title = payload[payloadTitle].GetStringValue()
	e.Features.Abstract = payload[payloadAbstract].GetStringValue()
	for _, v := range payload[payloadFormulas].GetListValue().GetValues() {
		e.Features.Formulas = append(e.Features.Formulas, v.GetStringValue())
	}
	for _, v := range payload[payloadConstants].GetListValue().GetValues() {
		e.Features.Constants = append(e.Features.Constants, v.GetStringValue())
	}
	for _, v := range payload[payloadEmbedding].GetListValue().GetValues() {
		e.Embedding = append(e.Embedding, v.GetDoubleValue())
	}
	if ts, err := time.Parse(time.RFC3339Nano, payload[payloadArchivedAt].GetStringValue()); err == nil {
		e.ArchivedAt = ts
	}
	return e
}

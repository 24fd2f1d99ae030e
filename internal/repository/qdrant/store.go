// Package qdrant is the vector search adapter over the Qdrant gRPC API.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"

	qd "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/artsearch/internal/domain"
	"github.com/kailas-cloud/artsearch/internal/domain/search/candidate"
	"github.com/kailas-cloud/artsearch/internal/domain/search/request"
	"github.com/kailas-cloud/artsearch/internal/metrics"
)

// client is the subset of *qd.Client the adapter needs.
type client interface {
	Query(ctx context.Context, req *qd.QueryPoints) ([]*qd.ScoredPoint, error)
	HealthCheck(ctx context.Context) (*qd.HealthCheckReply, error)
	Close() error
}

// Config holds connection parameters.
type Config struct {
	// Addr is the gRPC host:port, usually port 6334.
	Addr    string
	APIKey  string
	TLS     bool
	Timeout time.Duration
}

// Store runs similarity searches and converts points into typed hits.
type Store struct {
	client  client
	timeout time.Duration
	logger  *zap.Logger
}

// New connects to Qdrant.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("qdrant addr %q: %w", cfg.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("qdrant port %q: %w", portStr, err)
	}

	c, err := qd.NewClient(&qd.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return NewWithClient(c, cfg.Timeout, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c client, timeout time.Duration, logger *zap.Logger) *Store {
	return &Store{client: c, timeout: timeout, logger: logger}
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close qdrant: %w", err)
	}
	return nil
}

// Search returns up to req.Limit hits ordered by descending score.
// Points without an image_path payload are dropped. Every failure wraps
// domain.ErrSearchUnavailable.
func (s *Store) Search(ctx context.Context, req request.Request) ([]candidate.Hit, error) {
	if req.Limit <= 0 {
		return nil, nil
	}

	limit := uint64(req.Limit)
	q := &qd.QueryPoints{
		CollectionName: req.Collection,
		Query:          qd.NewQuery(req.Vector...),
		Limit:          &limit,
		WithPayload:    payloadSelector(req.PayloadFields),
	}
	if req.VectorName != "" {
		using := req.VectorName
		q.Using = &using
	}
	if s.timeout > 0 {
		secs := uint64(math.Ceil(s.timeout.Seconds()))
		q.Timeout = &secs
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	points, err := s.client.Query(ctx, q)
	metrics.VectorSearchDuration.WithLabelValues(req.Collection).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.VectorSearchRequestsTotal.WithLabelValues(req.Collection, statusLabel(err)).Inc()
		s.logger.Error("Vector search failed",
			zap.String("collection", req.Collection),
			zap.String("vector", req.VectorName),
			zap.Int("limit", req.Limit),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: search %s: %w", domain.ErrSearchUnavailable, req.Collection, err)
	}
	metrics.VectorSearchRequestsTotal.WithLabelValues(req.Collection, "ok").Inc()

	hits := make([]candidate.Hit, 0, len(points))
	for _, p := range points {
		h, err := candidate.NewHit(float64(p.GetScore()), payloadMap(p.GetPayload()))
		if err != nil {
			metrics.VectorSearchHitsDropped.WithLabelValues(req.Collection).Inc()
			s.logger.Warn("Dropping search hit",
				zap.String("collection", req.Collection),
				zap.String("point_id", p.GetId().String()),
				zap.Error(err),
			)
			continue
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// HealthCheck calls the Qdrant health RPC.
func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: qdrant health: %w", domain.ErrSearchUnavailable, err)
	}
	return nil
}

func payloadSelector(fields []string) *qd.WithPayloadSelector {
	if len(fields) == 0 {
		return qd.NewWithPayload(true)
	}
	return qd.NewWithPayloadInclude(fields...)
}

// payloadMap flattens scalar payload values. Nested values are ignored.
func payloadMap(payload map[string]*qd.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *qd.Value_StringValue:
			out[k] = kind.StringValue
		case *qd.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *qd.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *qd.Value_BoolValue:
			out[k] = kind.BoolValue
		}
	}
	return out
}

func statusLabel(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return st.Code().String()
	}
	return "error"
}

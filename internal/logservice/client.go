package logservice

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/chroma-core/collectiongc/internal/gc"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const serviceMethod = "/chroma.wal.LogService/GarbageCollectLogs"

// Client calls the write-ahead log service's garbage collection RPC.
type Client struct {
	conn *grpc.ClientConn
}

// DialOption configures Dial beyond its required arguments.
type DialOption func(*dialConfig)

type dialConfig struct {
	caPEM []byte
}

// WithServerCA adds a custom CA certificate pool for the connection's
// transport credentials.
func WithServerCA(pem []byte) DialOption {
	return func(c *dialConfig) { c.caPEM = pem }
}

// Dial opens a gRPC connection to the log service at endpoint.
func Dial(endpoint string, logger *slog.Logger, opts ...DialOption) (*Client, error) {
	var cfg dialConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	dialOptions := []grpc.DialOption{
		grpc.WithChainUnaryInterceptor(unaryClientInterceptor(logger)),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}

	if len(cfg.caPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.caPEM) {
			return nil, fmt.Errorf("adding log service CA to cert pool")
		}
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(pool, "")))
	} else {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(endpoint, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dialing log service at %s: %w", endpoint, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

type garbageCollectLogsRequest struct {
	CollectionsToDestroy        []string         `json:"collections_to_destroy"`
	CollectionsToGarbageCollect map[string]uint64 `json:"collections_to_garbage_collect"`
	IgnoreMinVersionsForWAL3    bool             `json:"ignore_min_versions_for_wal3"`
}

type garbageCollectLogsResponse struct {
	DestroyedCount  int `json:"destroyed_count"`
	TruncatedCount  int `json:"truncated_count"`
}

// GarbageCollectLogs implements gc.LogGarbageCollector.
func (c *Client) GarbageCollectLogs(ctx context.Context, req gc.DeleteUnusedLogsRequest) error {
	wireReq := &garbageCollectLogsRequest{
		CollectionsToDestroy:         make([]string, len(req.CollectionsToDestroy)),
		CollectionsToGarbageCollect:  make(map[string]uint64, len(req.CollectionsToGarbageCollect)),
		IgnoreMinVersionsForWAL3:     req.IgnoreMinVersionsForWAL3,
	}
	for i, id := range req.CollectionsToDestroy {
		wireReq.CollectionsToDestroy[i] = id.String()
	}
	for id, offset := range req.CollectionsToGarbageCollect {
		wireReq.CollectionsToGarbageCollect[id.String()] = uint64(offset)
	}

	var resp garbageCollectLogsResponse
	if err := c.conn.Invoke(ctx, serviceMethod, wireReq, &resp); err != nil {
		return fmt.Errorf("calling %s: %w", serviceMethod, err)
	}
	return nil
}

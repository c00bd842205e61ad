package logservice

import (
	"context"
	"log/slog"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/chroma-core/collectiongc/internal/gc"
)

// fakeLogServiceHandler implements the garbage-collect-logs RPC directly
// against a grpc.ServiceDesc, standing in for the real write-ahead log
// service since no generated stub exists in this environment.
type fakeLogServiceHandler struct {
	gotReq garbageCollectLogsRequest
}

func (h *fakeLogServiceHandler) garbageCollectLogs(ctx context.Context, dec func(any) error) (any, error) {
	var req garbageCollectLogsRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	h.gotReq = req
	return &garbageCollectLogsResponse{
		DestroyedCount: len(req.CollectionsToDestroy),
		TruncatedCount: len(req.CollectionsToGarbageCollect),
	}, nil
}

func startFakeLogService(t *testing.T, h *fakeLogServiceHandler) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "chroma.wal.LogService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "GarbageCollectLogs",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				return h.garbageCollectLogs(ctx, dec)
			},
		}},
	}, nil)

	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestClient_GarbageCollectLogs_RoundTripsOverJSONCodec(t *testing.T) {
	handler := &fakeLogServiceHandler{}
	addr := startFakeLogService(t, handler)

	client, err := Dial(addr, slog.Default())
	require.NoError(t, err)
	defer client.Close()

	cidDestroy := gc.CollectionID(uuid.New())
	cidGC := gc.CollectionID(uuid.New())

	req := gc.DeleteUnusedLogsRequest{
		CollectionsToDestroy:        []gc.CollectionID{cidDestroy},
		CollectionsToGarbageCollect: map[gc.CollectionID]gc.LogPosition{cidGC: 17},
		IgnoreMinVersionsForWAL3:    true,
	}

	err = client.GarbageCollectLogs(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{cidDestroy.String()}, handler.gotReq.CollectionsToDestroy)
	assert.Equal(t, uint64(17), handler.gotReq.CollectionsToGarbageCollect[cidGC.String()])
	assert.True(t, handler.gotReq.IgnoreMinVersionsForWAL3)
}

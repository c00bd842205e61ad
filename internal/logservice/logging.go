package logservice

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// unaryClientInterceptor logs each request/response pair. Unlike a
// protobuf-oriented client logging interceptor this one logs req/reply
// directly as plain Go structs, since this client's messages carry the json
// codec rather than proto.Message.
func unaryClientInterceptor(logger *slog.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		logger.InfoContext(ctx, method, slog.Any("request", req))
		err := invoker(ctx, method, req, reply, cc, opts...)
		if err != nil {
			logger.ErrorContext(ctx, "request failed", slog.String("method", method), slog.Any("error", status.Convert(err).Proto()))
		} else {
			logger.InfoContext(ctx, "gRPC response received", slog.String("method", method), slog.Any("response", reply))
		}
		return err
	}
}

package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// fakeServerStream stands in for a WatchCatalog stream and counts the
// messages a handler sends.
type fakeServerStream struct {
	grpc.ServerStream
	ctx  context.Context
	sent int
}

func (s *fakeServerStream) Context() context.Context {
	return s.ctx
}

func (s *fakeServerStream) SendMsg(any) error {
	s.sent++
	return nil
}

// grpcContext returns an incoming context carrying header as the
// authorization metadata. An empty header sends no metadata.
func grpcContext(header string) context.Context {
	ctx := context.Background()
	if header != "" {
		ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", header))
	}
	return ctx
}

func textLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func assertLogContains(t *testing.T, output string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(output, want) {
			t.Fatalf("log output missing %q:\n%s", want, output)
		}
	}
}

// Package e2e exercises flows that package-level tests cannot: a full
// analysis run exporting stage traces over a live OTLP connection.
package e2e

import (
	"context"
	"net"
	"sync"
	"testing"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
)

// spanCollector is an in-process OTLP trace receiver. It flattens
// everything it receives so tests can assert on plain span lists.
type spanCollector struct {
	collectortrace.UnimplementedTraceServiceServer

	mu       sync.Mutex
	spans    []*tracepb.Span
	arrivals chan struct{}
}

// startSpanCollector serves the OTLP trace service on a loopback port
// and returns the collector together with its dial address.
func startSpanCollector(t *testing.T) (*spanCollector, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen for otlp: %v", err)
	}

	c := &spanCollector{arrivals: make(chan struct{}, 1)}
	server := grpc.NewServer()
	collectortrace.RegisterTraceServiceServer(server, c)
	go func() { _ = server.Serve(lis) }()

	t.Cleanup(func() {
		server.Stop()
		_ = lis.Close()
	})
	return c, lis.Addr().String()
}

func (c *spanCollector) Export(_ context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	c.mu.Lock()
	for _, rs := range req.ResourceSpans {
		for _, scope := range rs.ScopeSpans {
			c.spans = append(c.spans, scope.Spans...)
		}
	}
	c.mu.Unlock()

	select {
	case c.arrivals <- struct{}{}:
	default:
	}
	return &collectortrace.ExportTraceServiceResponse{}, nil
}

// WaitFor blocks until at least n spans have arrived or the context
// expires, returning whatever has been received by then.
func (c *spanCollector) WaitFor(ctx context.Context, n int) []*tracepb.Span {
	for {
		c.mu.Lock()
		if len(c.spans) >= n {
			spans := append([]*tracepb.Span(nil), c.spans...)
			c.mu.Unlock()
			return spans
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			c.mu.Lock()
			spans := append([]*tracepb.Span(nil), c.spans...)
			c.mu.Unlock()
			return spans
		case <-c.arrivals:
		}
	}
}

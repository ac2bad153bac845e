// Package transports provides the transport used by the CLI to reach a durq
// server.
package transports

import (
	"context"
	"time"

	httpserver "github.com/rzbill/durq/internal/server/http"
	"github.com/rzbill/durq/pkg/queue"
)

// Stats mirrors the server's stats response.
type Stats = httpserver.StatsResponse

// QueueTransport abstracts how the CLI talks to the served queue.
type QueueTransport interface {
	Enqueue(ctx context.Context, payload []byte) (*queue.Message, error)
	// Take returns nil when the queue is empty.
	Take(ctx context.Context) (*queue.Message, error)
	Finish(ctx context.Context, msg *queue.Message) error
	Requeue(ctx context.Context, msg *queue.Message, silent bool) error
	Orphans(ctx context.Context, threshold time.Duration) ([]*queue.Message, error)
	Recover(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

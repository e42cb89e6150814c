package melvin

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Ingestor feeds text observations into the engine through a bounded queue.
// Producers back off with sleep-and-retry when the queue is full; no item is
// dropped. A single consumer goroutine drains the queue into Learn, so the
// reasoning thread only blocks on the store, never on producers.
type Ingestor struct {
	engine  *Engine
	queue   chan string
	backoff time.Duration

	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

// NewIngestor creates and starts an ingestor over the engine. Size bounds
// the queue; zero selects the engine's configured default.
func NewIngestor(engine *Engine, size int) *Ingestor {
	if size <= 0 {
		size = engine.Config().IngestQueueSize
	}
	if size <= 0 {
		size = 1000
	}
	ing := &Ingestor{
		engine:   engine,
		queue:    make(chan string, size),
		backoff:  10 * time.Millisecond,
		shutdown: make(chan struct{}),
	}
	ing.wg.Add(1)
	go ing.consume()
	return ing
}

// Submit enqueues one observation, retrying with backoff while the queue is
// full. Returns the context error if the caller gives up first.
func (ing *Ingestor) Submit(ctx context.Context, text string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ing.shutdown:
			return fmt.Errorf("ingestor closed")
		case ing.queue <- text:
			return nil
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ing.shutdown:
			return fmt.Errorf("ingestor closed")
		case <-time.After(ing.backoff):
		}
	}
}

// Pending returns the current queue depth.
func (ing *Ingestor) Pending() int { return len(ing.queue) }

// Close stops accepting work, drains the queue and waits for the consumer.
func (ing *Ingestor) Close() {
	ing.once.Do(func() {
		close(ing.shutdown)
		ing.wg.Wait()
	})
}

func (ing *Ingestor) consume() {
	defer ing.wg.Done()
	ctx := context.Background()
	for {
		select {
		case text := <-ing.queue:
			if err := ing.engine.Learn(ctx, text); err != nil {
				ing.engine.logger.Warn("ingested observation failed", "error", err)
			}
		case <-ing.shutdown:
			// Drain what is already queued; producers are gone.
			for {
				select {
				case text := <-ing.queue:
					if err := ing.engine.Learn(ctx, text); err != nil {
						ing.engine.logger.Warn("ingested observation failed", "error", err)
					}
				default:
					return
				}
			}
		}
	}
}

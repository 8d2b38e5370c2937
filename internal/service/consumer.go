// File: internal/service/consumer.go
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/supervisor"
)

const (
	resultBatchSize    = 50
	resultBatchTimeout = 2 * time.Second
	persistTimeout     = 30 * time.Second
)

// recordedResult is a tool result waiting to be persisted.
type recordedResult struct {
	conversationID string
	result         schemas.ToolResult
}

// batchSaver is implemented by stores that can write several results in one
// transaction.
type batchSaver interface {
	SaveToolResults(ctx context.Context, conversationID string, results []schemas.ToolResult) error
}

// ResultConsumer decouples tool execution from persistence. Results handed to
// Record are batched and written to the memory store by a single goroutine.
type ResultConsumer struct {
	results chan recordedResult
	done    chan struct{}
	store   schemas.MemoryStore
	logger  *zap.Logger
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ supervisor.ResultRecorder = (*ResultConsumer)(nil)

// StartResultConsumer launches the consumer goroutine. Cancelling ctx drains
// what is buffered and stops it; Close does the same gracefully.
func StartResultConsumer(ctx context.Context, store schemas.MemoryStore, logger *zap.Logger) *ResultConsumer {
	c := &ResultConsumer{
		results: make(chan recordedResult, 1024),
		done:    make(chan struct{}),
		store:   store,
		logger:  logger.Named("result_consumer"),
	}
	c.wg.Add(1)
	go c.run(ctx)
	return c
}

// Record queues a result for persistence. Results recorded after Close, or
// after the consumer stopped, are dropped.
func (c *ResultConsumer) Record(conversationID string, result schemas.ToolResult) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.logger.Warn("Result recorded after shutdown, dropping.", zap.String("tool", result.ToolName))
		return
	}
	select {
	case c.results <- recordedResult{conversationID: conversationID, result: result}:
	case <-c.done:
		c.logger.Warn("Result consumer stopped, dropping result.", zap.String("tool", result.ToolName))
	}
}

// Close stops accepting results and waits up to timeout for the buffered ones
// to be persisted. It reports whether the consumer finished in time.
func (c *ResultConsumer) Close(timeout time.Duration) bool {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.results)
	}
	c.mu.Unlock()
	return timedWait(&c.wg, timeout)
}

func (c *ResultConsumer) run(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.done)
	c.logger.Debug("Result consumer started.")
	defer c.logger.Debug("Result consumer shut down.")

	batch := make([]recordedResult, 0, resultBatchSize)
	ticker := time.NewTicker(resultBatchTimeout)
	defer ticker.Stop()

	flush := func() {
		c.persist(batch)
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-c.results:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			// Flush once a burst ends so follow-up turns can recall the results.
			if len(batch) >= resultBatchSize || len(c.results) == 0 {
				flush()
				ticker.Reset(resultBatchTimeout)
			}

		case <-ticker.C:
			flush()

		case <-ctx.Done():
			c.logger.Warn("Result consumer context canceled, draining buffered results.")
			drainChannel(c.results, &batch)
			flush()
			return
		}
	}
}

// persist writes a batch grouped by conversation, keeping each
// conversation's results in arrival order.
func (c *ResultConsumer) persist(batch []recordedResult) {
	if len(batch) == 0 || c.store == nil {
		return
	}
	c.logger.Debug("Persisting tool result batch.", zap.Int("count", len(batch)))

	// The caller's context may already be cancelled during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var order []string
	grouped := make(map[string][]schemas.ToolResult)
	for _, r := range batch {
		if _, seen := grouped[r.conversationID]; !seen {
			order = append(order, r.conversationID)
		}
		grouped[r.conversationID] = append(grouped[r.conversationID], r.result)
	}

	for _, id := range order {
		results := grouped[id]
		if err := c.save(ctx, id, results); err != nil {
			c.logger.Error("Failed to persist tool results. Data may be lost.",
				zap.String("conversation_id", id),
				zap.Int("batch_size", len(results)),
				zap.Error(err))
		}
	}
}

func (c *ResultConsumer) save(ctx context.Context, conversationID string, results []schemas.ToolResult) error {
	if bs, ok := c.store.(batchSaver); ok {
		return bs.SaveToolResults(ctx, conversationID, results)
	}
	for _, r := range results {
		if err := c.store.SaveToolResult(ctx, conversationID, r); err != nil {
			return err
		}
	}
	return nil
}

// drainChannel reads whatever is buffered in ch into batch without blocking.
func drainChannel(ch <-chan recordedResult, batch *[]recordedResult) {
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return
			}
			*batch = append(*batch, r)
		default:
			return
		}
	}
}

// timedWait waits for wg and reports false if timeout elapses first.
func timedWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

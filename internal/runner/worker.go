package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/chatfire/internal/message"
	"github.com/torosent/chatfire/internal/metrics"
	"github.com/torosent/chatfire/internal/pool"
	"github.com/torosent/chatfire/internal/tracing"
	"github.com/torosent/chatfire/internal/websocket"
)

// Conn is the pooled connection a worker sends through.
type Conn interface {
	pool.Conn
	Send(ctx context.Context, data []byte) error
	SendAndAwait(ctx context.Context, data []byte, match func([]byte) bool) (websocket.Reply, error)
}

// ConnSource hands out the shared connection for a room.
type ConnSource interface {
	Acquire(ctx context.Context, roomID string) (Conn, error)
}

// Popper is the consumer side of the work queue.
type Popper interface {
	Pop(ctx context.Context, timeout time.Duration) (message.WorkItem, bool)
}

// Shares splits total items across n workers: total/n each, with the
// remainder going one apiece to the first total%n workers.
func Shares(total, n int) []int {
	if n <= 0 {
		return nil
	}
	shares := make([]int, n)
	base, rem := total/n, total%n
	for i := range shares {
		shares[i] = base
		if i < rem {
			shares[i]++
		}
	}
	return shares
}

// workerResult tallies one worker's share.
type workerResult struct {
	Sent    int
	Failed  int
	Dropped int
}

// worker consumes its share of the queue. Every outcome is absorbed here and
// turned into exactly one metrics.Record.
type worker struct {
	id          int
	share       int
	phase       string
	queue       Popper
	conns       ConnSource
	collector   *metrics.Collector
	policy      RetryPolicy
	sampleEvery int // 0 disables measured sends
	popTimeout  time.Duration
	tracer      trace.Tracer
	log         *zap.Logger
}

func (w *worker) run(ctx context.Context) workerResult {
	var res workerResult
	for i := 0; i < w.share; i++ {
		item, ok := w.queue.Pop(ctx, w.popTimeout)
		if !ok {
			res.Dropped = w.share - i
			w.collector.Dropped(res.Dropped)
			w.log.Warn("worker timed out waiting for work",
				zap.Int("worker", w.id),
				zap.Duration("timeout", w.popTimeout),
				zap.Int("dropped", res.Dropped),
			)
			break
		}

		measure := w.sampleEvery > 0 && i%w.sampleEvery == 0
		rec := w.process(ctx, item, measure)
		w.collector.Record(rec)
		if rec.Succeeded() {
			res.Sent++
		} else {
			res.Failed++
		}
	}

	w.log.Debug("worker completed",
		zap.Int("worker", w.id),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
	)
	return res
}

// process delivers one item with retries and returns its outcome record.
func (w *worker) process(ctx context.Context, item message.WorkItem, measure bool) metrics.Record {
	rec := metrics.Record{
		Timestamp:  time.Now(),
		Phase:      w.phase,
		Kind:       item.Kind,
		RoomID:     item.RoomID,
		StatusCode: metrics.StatusSent,
	}

	payload, err := item.Marshal()
	if err != nil {
		rec.StatusCode = metrics.StatusBadRequest
		w.log.Error("dropping unserializable work item", zap.Int("worker", w.id), zap.Error(err))
		return rec
	}

	var span trace.Span
	if measure {
		ctx, span = tracing.StartSendSpan(ctx, w.tracer, item.RoomID, string(item.Kind))
	}

	attempts, err := w.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		conn, err := w.conns.Acquire(ctx, item.RoomID)
		if err != nil {
			w.collector.Reconnection()
			return &SendError{Op: "connect", Status: metrics.StatusTransportError, Err: err}
		}
		if !measure {
			if err := conn.Send(ctx, payload); err != nil {
				w.collector.Reconnection()
				return &SendError{Op: "send", Status: metrics.StatusTransportError, Err: err}
			}
			return nil
		}
		return w.measuredSend(ctx, conn, item, payload, &rec)
	})

	if err != nil {
		rec.StatusCode = metrics.StatusTransportError
		var se *SendError
		if errors.As(err, &se) {
			rec.StatusCode = se.Status
		}
		w.log.Debug("send failed",
			zap.Int("worker", w.id),
			zap.String("room", item.RoomID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}

	if span != nil {
		tracing.EndSpan(span, err,
			attribute.Int("chatfire.attempts", attempts),
			attribute.Int("chatfire.status_code", rec.StatusCode),
			attribute.Int64("chatfire.latency_ms", rec.LatencyMs),
		)
	}
	return rec
}

func (w *worker) measuredSend(ctx context.Context, conn Conn, item message.WorkItem, payload []byte, rec *metrics.Record) error {
	reply, err := conn.SendAndAwait(ctx, payload, func(p []byte) bool { return message.Correlates(p, item) })
	switch {
	case errors.Is(err, websocket.ErrAckTimeout):
		return &SendError{Op: "await ack", Status: metrics.StatusAckTimeout, Err: err}
	case err != nil:
		w.collector.Reconnection()
		return &SendError{Op: "send", Status: metrics.StatusTransportError, Err: err}
	}

	// Rejected sends keep LatencyMs at 0 so they stay out of latency stats.
	if ack := message.ParseAck(reply.Payload); !ack.OK {
		return &SendError{
			Op:        "ack",
			Status:    metrics.StatusBadRequest,
			Permanent: true,
			Err:       fmt.Errorf("negative acknowledgment %q %v", ack.Status, ack.Errors),
		}
	}
	rec.LatencyMs = latencyMillis(reply.Latency())
	return nil
}

// latencyMillis rounds up so a measured reply never reads as unmeasured.
func latencyMillis(d time.Duration) int64 {
	ms := int64((d + time.Millisecond - 1) / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	return ms
}

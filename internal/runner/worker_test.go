package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/torosent/chatfire/internal/message"
	"github.com/torosent/chatfire/internal/metrics"
	"github.com/torosent/chatfire/internal/queue"
	"github.com/torosent/chatfire/internal/websocket"
)

type fakeConn struct {
	alive     atomic.Bool
	failSends atomic.Int32 // upcoming sends that fail
	sends     atomic.Int64
	reply     func(payload []byte) ([]byte, error)
	block     bool
}

func newFakeConn() *fakeConn {
	c := &fakeConn{}
	c.alive.Store(true)
	return c
}

func (c *fakeConn) Alive() bool  { return c.alive.Load() }
func (c *fakeConn) Close() error { c.alive.Store(false); return nil }

func (c *fakeConn) Send(ctx context.Context, data []byte) error {
	c.sends.Add(1)
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if c.failSends.Add(-1) >= 0 {
		return errors.New("broken pipe")
	}
	return nil
}

func (c *fakeConn) SendAndAwait(ctx context.Context, data []byte, match func([]byte) bool) (websocket.Reply, error) {
	sent := time.Now()
	if err := c.Send(ctx, data); err != nil {
		return websocket.Reply{SentAt: sent}, err
	}
	if c.reply == nil {
		return websocket.Reply{SentAt: sent}, websocket.ErrAckTimeout
	}
	payload, err := c.reply(data)
	return websocket.Reply{Payload: payload, SentAt: sent, ReceivedAt: sent.Add(3 * time.Millisecond)}, err
}

type fakeSource struct {
	conn         *fakeConn
	failAcquires atomic.Int32
}

func (s *fakeSource) Acquire(ctx context.Context, room string) (Conn, error) {
	if s.failAcquires.Add(-1) >= 0 {
		return nil, errors.New("handshake refused")
	}
	return s.conn, nil
}

func successReply(payload []byte) ([]byte, error) {
	item, err := message.Unmarshal(payload)
	if err != nil {
		return nil, err
	}
	body, _ := item.Marshal()
	return append(append([]byte(`{"status":"SUCCESS","originalMessage":`), body...), '}'), nil
}

func testItem() message.WorkItem {
	return message.WorkItem{
		UserID: "1", Username: "user1", Message: "hi",
		Timestamp: "2026-02-08T10:30:00Z", Kind: message.KindText, RoomID: "3",
	}
}

func newTestWorker(t *testing.T, src ConnSource, q Popper, sampleEvery int) (*worker, *metrics.Collector) {
	collector := metrics.NewCollector(true)
	return &worker{
		share:       1,
		phase:       "test",
		queue:       q,
		conns:       src,
		collector:   collector,
		policy:      RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Millisecond, Sleeper: SleeperFunc(func(context.Context, time.Duration) error { return nil })},
		sampleEvery: sampleEvery,
		popTimeout:  50 * time.Millisecond,
		tracer:      noop.NewTracerProvider().Tracer("test"),
		log:         zaptest.NewLogger(t),
	}, collector
}

func TestShares(t *testing.T) {
	got := Shares(1003, 10)
	sum := 0
	for i, s := range got {
		sum += s
		want := 100
		if i < 3 {
			want = 101
		}
		if s != want {
			t.Errorf("share[%d] = %d, want %d", i, s, want)
		}
	}
	if sum != 1003 {
		t.Errorf("shares sum to %d, want 1003", sum)
	}
	if Shares(10, 0) != nil {
		t.Error("expected nil shares for zero workers")
	}
	if s := Shares(3, 5); s[0] != 1 || s[2] != 1 || s[3] != 0 {
		t.Errorf("unexpected small shares %v", s)
	}
}

func TestWorkerRetryFourFailuresThenSuccess(t *testing.T) {
	conn := newFakeConn()
	conn.failSends.Store(4)
	w, collector := newTestWorker(t, &fakeSource{conn: conn}, nil, 0)

	rec := w.process(context.Background(), testItem(), false)
	collector.Record(rec)

	if rec.StatusCode != metrics.StatusSent {
		t.Fatalf("expected status 200, got %d", rec.StatusCode)
	}
	c := collector.Counters()
	if c.Successes != 1 || c.Failures != 0 {
		t.Errorf("expected 1 success 0 failures, got %+v", c)
	}
	if c.Reconnections != 4 {
		t.Errorf("expected 4 reconnections, got %d", c.Reconnections)
	}
	if n := len(collector.Records()); n != 1 {
		t.Errorf("expected exactly one record, got %d", n)
	}
	if conn.sends.Load() != 5 {
		t.Errorf("expected 5 send attempts, got %d", conn.sends.Load())
	}
}

func TestWorkerRetryExhausted(t *testing.T) {
	conn := newFakeConn()
	conn.failSends.Store(100)
	w, collector := newTestWorker(t, &fakeSource{conn: conn}, nil, 0)

	rec := w.process(context.Background(), testItem(), false)
	collector.Record(rec)

	if rec.StatusCode != metrics.StatusTransportError {
		t.Fatalf("expected status 500, got %d", rec.StatusCode)
	}
	c := collector.Counters()
	if c.Successes != 0 || c.Failures != 1 {
		t.Errorf("expected 0 successes 1 failure, got %+v", c)
	}
	if n := len(collector.Records()); n != 1 {
		t.Errorf("expected exactly one record, got %d", n)
	}
	if conn.sends.Load() != 5 {
		t.Errorf("expected 5 send attempts, got %d", conn.sends.Load())
	}
}

func TestWorkerConnectFailureCountsReconnection(t *testing.T) {
	src := &fakeSource{conn: newFakeConn()}
	src.failAcquires.Store(2)
	w, collector := newTestWorker(t, src, nil, 0)

	rec := w.process(context.Background(), testItem(), false)
	if rec.StatusCode != metrics.StatusSent {
		t.Fatalf("expected eventual success, got %d", rec.StatusCode)
	}
	if got := collector.Counters().Reconnections; got != 2 {
		t.Errorf("expected 2 reconnections, got %d", got)
	}
}

func TestWorkerMeasuredSendSuccess(t *testing.T) {
	conn := newFakeConn()
	conn.reply = successReply
	w, _ := newTestWorker(t, &fakeSource{conn: conn}, nil, 1)

	rec := w.process(context.Background(), testItem(), true)
	if rec.StatusCode != metrics.StatusSent {
		t.Fatalf("expected status 200, got %d", rec.StatusCode)
	}
	if rec.LatencyMs != 3 {
		t.Errorf("expected latency 3ms, got %d", rec.LatencyMs)
	}
}

func TestWorkerMeasuredSendAckTimeout(t *testing.T) {
	conn := newFakeConn() // nil reply means every wait times out
	w, collector := newTestWorker(t, &fakeSource{conn: conn}, nil, 1)

	rec := w.process(context.Background(), testItem(), true)
	if rec.StatusCode != metrics.StatusAckTimeout {
		t.Fatalf("expected status 504, got %d", rec.StatusCode)
	}
	if conn.sends.Load() != 5 {
		t.Errorf("ack timeouts should be retried by the outer loop, got %d sends", conn.sends.Load())
	}
	if collector.Counters().Reconnections != 0 {
		t.Errorf("ack timeouts are not connection failures")
	}
}

func TestWorkerNegativeAckIsNotRetried(t *testing.T) {
	conn := newFakeConn()
	conn.reply = func([]byte) ([]byte, error) {
		return []byte(`{"status":"ERROR","errors":["username must be 3-20 characters"]}`), nil
	}
	w, _ := newTestWorker(t, &fakeSource{conn: conn}, nil, 1)

	rec := w.process(context.Background(), testItem(), true)
	if rec.StatusCode != metrics.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.StatusCode)
	}
	if rec.LatencyMs != 0 {
		t.Errorf("rejected send recorded latency %dms, want 0", rec.LatencyMs)
	}
	if rec.Measured() {
		t.Error("rejected send counted as a latency sample")
	}
	if conn.sends.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", conn.sends.Load())
	}
}

func TestWorkerInvalidItemIsFatal(t *testing.T) {
	conn := newFakeConn()
	w, _ := newTestWorker(t, &fakeSource{conn: conn}, nil, 0)

	item := testItem()
	item.Kind = "SHOUT"
	rec := w.process(context.Background(), item, false)
	if rec.StatusCode != metrics.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.StatusCode)
	}
	if conn.sends.Load() != 0 {
		t.Errorf("unserializable items must not be sent")
	}
}

func TestWorkerSamplesEveryKthItem(t *testing.T) {
	conn := newFakeConn()
	conn.reply = successReply
	q := queue.New(100)
	for i := 0; i < 45; i++ {
		if err := q.Push(context.Background(), testItem()); err != nil {
			t.Fatal(err)
		}
	}
	w, collector := newTestWorker(t, &fakeSource{conn: conn}, q, 20)
	w.share = 45

	res := w.run(context.Background())
	if res.Sent != 45 {
		t.Fatalf("expected 45 sent, got %+v", res)
	}
	measured := 0
	for _, r := range collector.Records() {
		if r.Measured() {
			measured++
		}
	}
	// items 0, 20 and 40
	if measured != 3 {
		t.Errorf("expected 3 measured sends, got %d", measured)
	}
}

func TestWorkerPopTimeoutDropsRemainingShare(t *testing.T) {
	q := queue.New(10)
	for i := 0; i < 2; i++ {
		_ = q.Push(context.Background(), testItem())
	}
	w, collector := newTestWorker(t, &fakeSource{conn: newFakeConn()}, q, 0)
	w.share = 5

	res := w.run(context.Background())
	if res.Sent != 2 || res.Dropped != 3 {
		t.Fatalf("expected sent=2 dropped=3, got %+v", res)
	}
	c := collector.Counters()
	if c.Processed() != 2 || c.Dropped != 3 {
		t.Errorf("unexpected counters %+v", c)
	}
}

func TestLatencyMillisRoundsUp(t *testing.T) {
	for d, want := range map[time.Duration]int64{
		0:                       1,
		300 * time.Microsecond:  1,
		time.Millisecond:        1,
		1500 * time.Microsecond: 2,
		42 * time.Millisecond:   42,
	} {
		if got := latencyMillis(d); got != want {
			t.Errorf("latencyMillis(%s) = %d, want %d", d, got, want)
		}
	}
}

func TestConcurrentWorkersShareConnection(t *testing.T) {
	conn := newFakeConn()
	conn.reply = successReply
	q := queue.New(50)
	src := &fakeSource{conn: conn}
	collector := metrics.NewCollector(false)

	var wg sync.WaitGroup
	shares := Shares(200, 8)
	for i, share := range shares {
		w := &worker{
			id: i, share: share, queue: q, conns: src, collector: collector,
			policy:      RetryPolicy{MaxAttempts: 1},
			sampleEvery: 5, popTimeout: time.Second,
			tracer: noop.NewTracerProvider().Tracer("test"), log: zaptest.NewLogger(t),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(context.Background())
		}()
	}
	for i := 0; i < 200; i++ {
		if err := q.Push(context.Background(), testItem()); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	if got := collector.Counters().Successes; got != 200 {
		t.Errorf("expected 200 successes, got %d", got)
	}
}

package runner_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/torosent/chatfire/internal/corpus"
	"github.com/torosent/chatfire/internal/generator"
	"github.com/torosent/chatfire/internal/runner"
	"github.com/torosent/chatfire/internal/websocket"
)

type memConn struct {
	alive atomic.Bool
	block bool
}

func (c *memConn) Alive() bool  { return c.alive.Load() }
func (c *memConn) Close() error { c.alive.Store(false); return nil }

func (c *memConn) Send(ctx context.Context, data []byte) error {
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (c *memConn) SendAndAwait(ctx context.Context, data []byte, match func([]byte) bool) (websocket.Reply, error) {
	now := time.Now()
	if err := c.Send(ctx, data); err != nil {
		return websocket.Reply{SentAt: now}, err
	}
	return websocket.Reply{Payload: []byte(`{"status":"SUCCESS"}`), SentAt: now, ReceivedAt: now.Add(time.Millisecond)}, nil
}

type memDialer struct {
	dials atomic.Int32
	block bool
}

func (d *memDialer) dial(ctx context.Context, room string) (runner.Conn, error) {
	d.dials.Add(1)
	c := &memConn{block: d.block}
	c.alive.Store(true)
	return c, nil
}

func TestDefaultPhases(t *testing.T) {
	phases := runner.DefaultPhases(500_000, 32, 1000, 200)
	require.Len(t, phases, 2)
	assert.Equal(t, runner.PhaseSpec{Name: "warmup", Workers: 32, Messages: 32_000}, phases[0])
	assert.Equal(t, runner.PhaseSpec{Name: "main", Workers: 200, Messages: 468_000}, phases[1])

	phases = runner.DefaultPhases(100, 32, 1000, 200)
	require.Len(t, phases, 1)
	assert.Equal(t, 100, phases[0].Messages)

	assert.Equal(t, "main (200 workers × 468000 messages)", runner.DefaultPhases(500_000, 32, 1000, 200)[1].String())
}

func TestNewRunIDIsUnique(t *testing.T) {
	a, b := runner.NewRunID(), runner.NewRunID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}

// TestRunAccountsForEveryItem drives 1,000 items through 10 workers and a
// queue of 100.
func TestRunAccountsForEveryItem(t *testing.T) {
	d := &memDialer{}
	r := runner.New(runner.Options{
		Phases:        []runner.PhaseSpec{{Name: "main", Workers: 10, Messages: 1000}},
		QueueCapacity: 100,
		Detailed:      true,
		Generator:     generator.Options{MinRoomID: 1, MaxRoomID: 5, Seed: 42},
		Dial:          d.dial,
		Logger:        zaptest.NewLogger(t),
	})

	done := make(chan struct{})
	var (
		res runner.Result
		err error
	)
	go func() {
		defer close(done)
		res, err = r.Run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("run deadlocked")
	}
	require.NoError(t, err)

	require.Len(t, res.Phases, 1)
	phase := res.Phases[0]
	assert.Equal(t, 1000, phase.Generated)
	assert.Equal(t, int64(1000), phase.Summary.Processed()+phase.Summary.Dropped)
	assert.LessOrEqual(t, res.Overall.Processed(), int64(1000))
	assert.Len(t, res.Records, int(res.Overall.Processed()))
	assert.LessOrEqual(t, int(d.dials.Load()), 5)
	assert.Equal(t, int64(d.dials.Load()), res.Overall.ConnectionsCreated)
	assert.Equal(t, 0, r.LiveConnections(), "connections are closed at the end of a run")

	measured := 0
	for _, rec := range res.Records {
		if rec.Measured() {
			measured++
		}
	}
	// every worker measures items 0, 20, 40, ... of its 100-item share
	assert.Equal(t, 10*5, measured)
}

func TestRunTwoPhasesWithPause(t *testing.T) {
	d := &memDialer{}
	r := runner.New(runner.Options{
		Phases:     runner.DefaultPhases(300, 4, 25, 8),
		PhasePause: 50 * time.Millisecond,
		Generator:  generator.Options{MinRoomID: 1, MaxRoomID: 3, Seed: 7},
		Dial:       d.dial,
	})

	start := time.Now()
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	require.Len(t, res.Phases, 2)
	assert.Equal(t, int64(100), res.Phases[0].Summary.Successes)
	assert.Equal(t, int64(200), res.Phases[1].Summary.Successes)
	assert.Equal(t, int64(300), res.Overall.Successes)
	assert.Nil(t, res.Records, "basic profile keeps no records")
	// the pool survives across phases
	assert.Equal(t, res.Phases[0].LiveConnections, res.Phases[1].LiveConnections)
}

func TestRunPhaseShutdownTimeout(t *testing.T) {
	d := &memDialer{block: true}
	r := runner.New(runner.Options{
		Phases:        []runner.PhaseSpec{{Name: "stuck", Workers: 2, Messages: 10}},
		ShutdownGrace: 100 * time.Millisecond,
		Generator:     generator.Options{Seed: 1},
		Retry:         runner.RetryPolicy{MaxAttempts: 1},
		Dial:          d.dial,
		Logger:        zaptest.NewLogger(t),
	})

	res, err := r.Run(context.Background())
	require.True(t, errors.Is(err, runner.ErrPhaseTimeout), "got %v", err)
	require.Len(t, res.Phases, 1)
	assert.LessOrEqual(t, res.Overall.Processed(), int64(10))
}

func TestRunRecordsPhaseSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	d := &memDialer{}
	r := runner.New(runner.Options{
		Phases:    []runner.PhaseSpec{{Name: "main", Workers: 2, Messages: 80}},
		Detailed:  true,
		Generator: generator.Options{Seed: 3},
		Dial:      d.dial,
		Tracer:    tp.Tracer("test"),
	})
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	var phaseSpans, sendSpans int
	for _, s := range exporter.GetSpans() {
		switch {
		case s.Name == "phase main":
			phaseSpans++
		case strings.HasPrefix(s.Name, "send room "):
			sendSpans++
		}
	}
	assert.Equal(t, 1, phaseSpans)
	assert.Equal(t, 4, sendSpans) // items 0 and 20 of each 40-item share
}

// chatEchoServer replies like the chat service: an echo of the original
// message with a SUCCESS status.
func chatEchoServer(t *testing.T) *httptest.Server {
	upgrader := gws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		room := strings.TrimPrefix(r.URL.Path, "/chat/")
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			resp, _ := json.Marshal(map[string]interface{}{
				"originalMessage": json.RawMessage(data),
				"serverTimestamp": time.Now().UTC().Format(time.RFC3339Nano),
				"status":          "SUCCESS",
				"roomId":          room,
			})
			if err := conn.WriteMessage(gws.TextMessage, resp); err != nil {
				return
			}
		}
	}))
}

func TestRunAgainstWebSocketServer(t *testing.T) {
	server := chatEchoServer(t)
	defer server.Close()

	r := runner.New(runner.Options{
		BaseURL:   "ws" + strings.TrimPrefix(server.URL, "http") + "/chat/",
		Phases:    []runner.PhaseSpec{{Name: "main", Workers: 6, Messages: 600}},
		Detailed:  true,
		Generator: generator.Options{MinRoomID: 1, MaxRoomID: 4, Seed: 11},
		Logger:    zaptest.NewLogger(t),
	})
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(600), res.Overall.Successes, "failures by status: %v", r.Collector().FailuresByStatus())
	assert.LessOrEqual(t, res.Overall.ConnectionsCreated, int64(4))
	assert.Len(t, res.Records, 600)

	measured := 0
	for _, rec := range res.Records {
		if rec.Measured() {
			measured++
		}
	}
	assert.Equal(t, 6*5, measured)
}

func TestRunReturnsWhenServerStopsReading(t *testing.T) {
	release := make(chan struct{})
	upgrader := gws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	defer server.Close()
	defer close(release)

	body := strings.Repeat("x", 64*1024)
	r := runner.New(runner.Options{
		BaseURL:       "ws" + strings.TrimPrefix(server.URL, "http") + "/chat/",
		Phases:        []runner.PhaseSpec{{Name: "main", Workers: 2, Messages: 2000}},
		ShutdownGrace: 200 * time.Millisecond,
		WriteTimeout:  time.Minute,
		Generator: generator.Options{
			MinRoomID: 1, MaxRoomID: 1, Seed: 3,
			Corpus: corpus.New([]string{body}, "large"),
		},
		Retry:  runner.RetryPolicy{MaxAttempts: 1},
		Logger: zaptest.NewLogger(t),
	})

	type outcome struct {
		res runner.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.Run(context.Background())
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		require.True(t, errors.Is(out.err, runner.ErrPhaseTimeout), "got %v", out.err)
		assert.Less(t, out.res.Overall.Successes, int64(2000))
		assert.Zero(t, r.LiveConnections())
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after the phase shutdown grace; a stuck write held the connection")
	}
}

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/chatfire/internal/message"
)

func TestExporterMirrorsCollector(t *testing.T) {
	c := NewCollector(false)
	e := NewExporter(c, "01TESTRUN", Gauges{
		LiveConnections: func() float64 { return 3 },
		QueueDepth:      func() float64 { return 17 },
	})

	c.Record(Record{Kind: message.KindText, StatusCode: StatusSent, LatencyMs: 25})
	c.Record(Record{Kind: message.KindText, StatusCode: StatusSent})
	c.Record(Record{Kind: message.KindJoin, StatusCode: StatusAckTimeout})
	c.ConnectionCreated()

	assert.Equal(t, 2.0, testutil.ToFloat64(e.outcomes.WithLabelValues("TEXT", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.outcomes.WithLabelValues("JOIN", "504")))

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	for _, want := range []string{
		`chatfire_successes_total{run_id="01TESTRUN"} 2`,
		`chatfire_failures_total{run_id="01TESTRUN"} 1`,
		`chatfire_connections_created_total{run_id="01TESTRUN"} 1`,
		`chatfire_live_connections{run_id="01TESTRUN"} 3`,
		`chatfire_queue_depth{run_id="01TESTRUN"} 17`,
		`chatfire_ack_latency_seconds_count{kind="TEXT",run_id="01TESTRUN"} 1`,
	} {
		assert.True(t, strings.Contains(text, want), "missing %q in exposition", want)
	}
}

package metrics

import (
	"net/http"
	"time"

	"github.com/torosent/chatfire/internal/message"
)

// Outcome status codes, borrowed from HTTP so reports read naturally.
const (
	StatusSent           = http.StatusOK
	StatusBadRequest     = http.StatusBadRequest
	StatusTransportError = http.StatusInternalServerError
	StatusAckTimeout     = http.StatusGatewayTimeout
)

// StatusText labels an outcome status code.
func StatusText(code int) string {
	switch code {
	case StatusSent:
		return "sent"
	case StatusBadRequest:
		return "rejected"
	case StatusTransportError:
		return "transport error"
	case StatusAckTimeout:
		return "ack timeout"
	default:
		return http.StatusText(code)
	}
}

// Record is the outcome of one processed work item. LatencyMs is 0 for
// unmeasured sends.
type Record struct {
	Timestamp  time.Time
	Phase      string
	Kind       message.Kind
	LatencyMs  int64
	StatusCode int
	RoomID     string
}

// Succeeded reports whether the record counts as a success.
func (r Record) Succeeded() bool { return r.StatusCode == StatusSent }

// Measured reports whether the record carries a latency sample.
func (r Record) Measured() bool { return r.LatencyMs > 0 }

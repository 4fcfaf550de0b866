package message

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// StatusSuccess is the acknowledgment marker sent by the echo service.
const StatusSuccess = "SUCCESS"

// Ack is the decoded acknowledgment of a measured send.
type Ack struct {
	Status string
	OK     bool
	Errors []string
}

// ParseAck inspects a reply payload. JSON replies are judged by their
// top-level "status" field; anything else falls back to a literal search for
// the success marker.
func ParseAck(payload []byte) Ack {
	if gjson.ValidBytes(payload) {
		parsed := gjson.ParseBytes(payload)
		if parsed.IsObject() {
			status := parsed.Get("status")
			if status.Exists() {
				ack := Ack{Status: status.String()}
				ack.OK = ack.Status == StatusSuccess
				for _, e := range parsed.Get("errors").Array() {
					ack.Errors = append(ack.Errors, e.String())
				}
				return ack
			}
		}
	}
	ok := bytes.Contains(payload, []byte(StatusSuccess))
	ack := Ack{OK: ok}
	if ok {
		ack.Status = StatusSuccess
	}
	return ack
}

// Correlates reports whether payload could be the reply to item. Success
// replies echo the original message, so an echo with a different sender or
// timestamp belongs to another send on the same connection. Replies without
// an echo (error responses, non-JSON payloads) correlate with anything.
func Correlates(payload []byte, item WorkItem) bool {
	if !gjson.ValidBytes(payload) {
		return true
	}
	echo := gjson.GetBytes(payload, "originalMessage")
	if !echo.IsObject() {
		return true
	}
	return echo.Get("userId").String() == item.UserID &&
		echo.Get("timestamp").String() == item.Timestamp
}

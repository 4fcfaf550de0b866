// Package message defines the chat work item, its wire encoding, and the
// acknowledgment format returned by the echo service.
package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind is the chat message type carried on the wire.
type Kind string

const (
	KindText  Kind = "TEXT"
	KindJoin  Kind = "JOIN"
	KindLeave Kind = "LEAVE"
)

// Kinds lists every Kind in enumeration order. Reports iterate in this order.
var Kinds = []Kind{KindText, KindJoin, KindLeave}

// Ordinal returns the position of k in Kinds, or len(Kinds) for unknown kinds.
func (k Kind) Ordinal() int {
	for i, candidate := range Kinds {
		if candidate == k {
			return i
		}
	}
	return len(Kinds)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k.Ordinal() < len(Kinds)
}

// ParseKind converts a case-insensitive name into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown message kind %q", s)
	}
	return k, nil
}

// TimestampLayout is the ISO-8601 layout used for generated timestamps.
const TimestampLayout = time.RFC3339Nano

// WorkItem is one synthesized chat message. RoomID selects the destination
// connection and is never serialized.
type WorkItem struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Kind      Kind   `json:"messageType"`
	RoomID    string `json:"-"`
}

// Marshal encodes the item into the wire payload.
func (w WorkItem) Marshal() ([]byte, error) {
	if !w.Kind.Valid() {
		return nil, fmt.Errorf("marshal work item: unknown message kind %q", w.Kind)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal work item: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a wire payload. RoomID is left empty since the wire never
// carries it.
func Unmarshal(data []byte) (WorkItem, error) {
	var w WorkItem
	if err := json.Unmarshal(data, &w); err != nil {
		return WorkItem{}, fmt.Errorf("unmarshal work item: %w", err)
	}
	return w, nil
}

// Package protocol defines the wire types exchanged with the ledger
// service over the push channel.
//
// The channel carries two frame shapes:
//
//	client -> server: { "type": "subscribe", "event": "<topic>" }
//	server -> client: { "type": "event", "event": "<topic>", "timestamp": ..., ... }
//
// Topic-specific payload fields ride alongside the envelope fields and are
// kept as raw JSON; this layer only needs the envelope to classify frames.
// Unknown frame types and unknown topics are not errors: the server may
// grow new topics before this client learns about them, so decoding
// reports them as unrecognized and the caller drops them.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic is one of the closed set of server push categories.
type Topic string

const (
	TopicChainUpdate      Topic = "chain_update"
	TopicCollectionUpdate Topic = "collection_update"
	TopicPeerUpdate       Topic = "peer_update"
	TopicAuditLogUpdate   Topic = "audit_log_update"
	TopicMetricsUpdate    Topic = "metrics_update"
)

// Topics lists every known topic, in subscription order.
func Topics() []Topic {
	return []Topic{
		TopicChainUpdate,
		TopicCollectionUpdate,
		TopicPeerUpdate,
		TopicAuditLogUpdate,
		TopicMetricsUpdate,
	}
}

// Known reports whether t names a topic this client understands.
func (t Topic) Known() bool {
	switch t {
	case TopicChainUpdate, TopicCollectionUpdate, TopicPeerUpdate,
		TopicAuditLogUpdate, TopicMetricsUpdate:
		return true
	}
	return false
}

// frameTypeEvent is the only inbound envelope type this layer dispatches.
const frameTypeEvent = "event"

// SubscribeDirective declares interest in one topic. One directive is sent
// per topic every time the connection comes up.
type SubscribeDirective struct {
	Type  string `json:"type"`
	Event Topic  `json:"event"`
}

// Subscribe builds the subscribe directive for a topic.
func Subscribe(t Topic) SubscribeDirective {
	return SubscribeDirective{Type: "subscribe", Event: t}
}

// Event is a decoded inbound push event. Payload holds the topic-specific
// fields exactly as received.
type Event struct {
	Topic     Topic
	Timestamp time.Time
	Payload   map[string]json.RawMessage
}

// envelope mirrors the inbound frame for decoding.
type envelope struct {
	Type      string    `json:"type"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// DecodeEvent parses a raw inbound frame. The boolean result is false for
// frames that should be dropped: unknown envelope type or unknown topic.
// Only malformed JSON produces an error, and callers treat that as a drop
// too (logged for diagnostics, never surfaced).
func DecodeEvent(data []byte) (Event, bool, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, false, fmt.Errorf("decoding event envelope: %w", err)
	}
	if env.Type != frameTypeEvent {
		return Event{}, false, nil
	}
	topic := Topic(env.Event)
	if !topic.Known() {
		return Event{}, false, nil
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return Event{}, false, fmt.Errorf("decoding event payload: %w", err)
	}
	delete(payload, "type")
	delete(payload, "event")
	delete(payload, "timestamp")

	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return Event{Topic: topic, Timestamp: ts, Payload: payload}, true, nil
}

// PayloadString extracts a string payload field, returning "" when the
// field is absent or not a string.
func (e Event) PayloadString(key string) string {
	raw, ok := e.Payload[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

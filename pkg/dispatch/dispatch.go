// Package dispatch is the single point where inbound frames become side
// effects. Every decoded event flows, in order, through cache
// invalidation, a buffer append, and (for non-audit topics) a toast
// emission. Frames with an unknown type or topic are dropped quietly so
// a newer server never crashes an older client.
package dispatch

import (
	"github.com/google/uuid"

	"github.com/ledgerscope/ledgerscope/pkg/buffer"
	"github.com/ledgerscope/ledgerscope/pkg/cache"
	"github.com/ledgerscope/ledgerscope/pkg/log"
	"github.com/ledgerscope/ledgerscope/pkg/notify"
	"github.com/ledgerscope/ledgerscope/pkg/protocol"
)

// invalidations is the static topic → cache key table. A push event is a
// staleness signal, not a payload: invalidated caches refetch lazily on
// their next read.
var invalidations = map[protocol.Topic][]string{
	protocol.TopicChainUpdate:      {cache.KeyChain, cache.KeyMetrics},
	protocol.TopicCollectionUpdate: {cache.KeyCollections},
	protocol.TopicPeerUpdate:       {cache.KeyPeers, cache.KeyMetrics},
	protocol.TopicAuditLogUpdate:   {cache.KeyAuditLogs},
	protocol.TopicMetricsUpdate:    {cache.KeyMetrics},
}

// InvalidatedCaches returns the cache keys a topic marks stale.
func InvalidatedCaches(t protocol.Topic) []string {
	return invalidations[t]
}

// Dispatcher fans decoded events out to the caches, the buffers, and
// the notification hub. It is driven by a single goroutine, so the
// ordering of side effects per event is also the ordering across
// events.
type Dispatcher struct {
	caches   *cache.Store
	activity *buffer.ActivityLog
	audit    *buffer.AuditStream
	hub      *notify.Hub
	logger   *log.Logger
}

func New(caches *cache.Store, activity *buffer.ActivityLog, audit *buffer.AuditStream, hub *notify.Hub) *Dispatcher {
	return &Dispatcher{
		caches:   caches,
		activity: activity,
		audit:    audit,
		hub:      hub,
		logger:   log.ForComponent("dispatch"),
	}
}

// Dispatch decodes one raw frame and applies its side effects. Unknown
// or malformed frames are dropped without error.
func (d *Dispatcher) Dispatch(data []byte) {
	event, ok, err := protocol.DecodeEvent(data)
	if err != nil {
		d.logger.Debugf("dropping malformed frame: %v", err)
		return
	}
	if !ok {
		d.logger.Debugf("dropping unrecognized frame")
		return
	}

	for _, key := range invalidations[event.Topic] {
		d.caches.Invalidate(key)
	}

	if event.Topic == protocol.TopicAuditLogUpdate {
		d.audit.Append(auditEntry(event))
		// Audit events never toast: the stream is high volume and has
		// its own dedicated view.
		return
	}

	d.activity.Append(activityEntry(event))
	d.hub.Emit(notify.Toast{
		Topic:     event.Topic,
		Message:   summarize(event),
		Timestamp: event.Timestamp,
	})
}

// activityEntry builds the human-readable log line for an event. The
// server may supply an id for de-dup friendly entries; otherwise one is
// minted locally.
func activityEntry(e protocol.Event) buffer.ActivityEntry {
	return buffer.ActivityEntry{
		ID:        entryID(e),
		Category:  category(e.Topic),
		Message:   summarize(e),
		Timestamp: e.Timestamp,
	}
}

func auditEntry(e protocol.Event) buffer.AuditEntry {
	return buffer.AuditEntry{
		ID:           entryID(e),
		EventKind:    e.PayloadString("event_kind"),
		OriginHash:   e.PayloadString("origin_hash"),
		CollectionID: e.PayloadString("collection_id"),
		Timestamp:    e.Timestamp,
	}
}

func entryID(e protocol.Event) string {
	if id := e.PayloadString("id"); id != "" {
		return id
	}
	return uuid.New().String()
}

func category(t protocol.Topic) string {
	switch t {
	case protocol.TopicChainUpdate:
		return "chain"
	case protocol.TopicCollectionUpdate:
		return "collection"
	case protocol.TopicPeerUpdate:
		return "peer"
	case protocol.TopicMetricsUpdate:
		return "metrics"
	}
	return string(t)
}

// summarize prefers a server-provided message and falls back to a terse
// per-topic default.
func summarize(e protocol.Event) string {
	if msg := e.PayloadString("message"); msg != "" {
		return msg
	}
	switch e.Topic {
	case protocol.TopicChainUpdate:
		return "Chain state updated"
	case protocol.TopicCollectionUpdate:
		if name := e.PayloadString("name"); name != "" {
			return "Collection " + name + " updated"
		}
		return "Collection updated"
	case protocol.TopicPeerUpdate:
		return "Peer set changed"
	case protocol.TopicMetricsUpdate:
		return "Metrics refreshed"
	}
	return string(e.Topic)
}

package api

import "time"

type ChainSummaryResponse struct {
	Height        int64     `json:"height"`
	HeadHash      string    `json:"head_hash"`
	LastBlockTime time.Time `json:"last_block_time"`
	RecordCount   int64     `json:"record_count"`
}

type CollectionResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RecordCount int64     `json:"record_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ListCollectionsResponse struct {
	Collections []CollectionResponse `json:"collections"`
	Count       int                  `json:"count"`
}

type PeerResponse struct {
	ID       string    `json:"id"`
	Address  string    `json:"address"`
	State    string    `json:"state"`
	LastSeen time.Time `json:"last_seen"`
}

type ListPeersResponse struct {
	Peers []PeerResponse `json:"peers"`
	Count int            `json:"count"`
}

type MetricsResponse struct {
	BlockHeight    int64     `json:"block_height"`
	PeerCount      int       `json:"peer_count"`
	RecordsPerHour float64   `json:"records_per_hour"`
	AuditEventRate float64   `json:"audit_event_rate"`
	CollectedAt    time.Time `json:"collected_at"`
}

type AuditLogResponse struct {
	ID           string    `json:"id"`
	EventKind    string    `json:"event_kind"`
	OriginHash   string    `json:"origin_hash"`
	CollectionID string    `json:"collection_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type ListAuditLogsResponse struct {
	Logs       []AuditLogResponse `json:"logs"`
	Count      int                `json:"count"`
	Page       int                `json:"page"`
	Limit      int                `json:"limit"`
	TotalPages int                `json:"total_pages"`
	HasMore    bool               `json:"has_more"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

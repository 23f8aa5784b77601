package domain

import "time"

// SyncStatus is the lifecycle state of one sync run.
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusInProgress SyncStatus = "in_progress"
	SyncStatusCompleted  SyncStatus = "completed"
	SyncStatusPartial    SyncStatus = "partial"
	SyncStatusFailed     SyncStatus = "failed"
)

// SyncResult is the outcome of one position sync run against one exchange.
// It is returned to the caller and appended to the sync log; it is never the
// source of truth for position state.
type SyncResult struct {
	RunID             string     `json:"run_id"`
	Exchange          string     `json:"exchange"`
	Status            SyncStatus `json:"status"`
	PositionsFetched  int        `json:"positions_fetched"`
	PositionsAdded    int        `json:"positions_added"`
	PositionsUpdated  int        `json:"positions_updated"`
	PositionsSkipped  int        `json:"positions_skipped"`
	Errors            []string   `json:"errors,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	LastSyncTime      *time.Time `json:"last_sync_time,omitempty"`
}

// Duration returns how long the run took, or zero while it is in flight.
func (r SyncResult) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Successful reports whether the run produced usable data.
func (r SyncResult) Successful() bool {
	return r.Status == SyncStatusCompleted || r.Status == SyncStatusPartial
}

// TradeSyncResult is the outcome of one trade sync run, layered on top of a
// position sync.
type TradeSyncResult struct {
	RunID              string     `json:"run_id"`
	Exchange           string     `json:"exchange"`
	Status             SyncStatus `json:"status"`
	PositionsProcessed int        `json:"positions_processed"`
	TradesCreated      int        `json:"trades_created"`
	TradesUpdated      int        `json:"trades_updated"`
	TradesSkipped      int        `json:"trades_skipped"`
	Errors             []string   `json:"errors,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the run took, or zero while it is in flight.
func (r TradeSyncResult) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Successful reports whether the run produced usable data.
func (r TradeSyncResult) Successful() bool {
	return r.Status == SyncStatusCompleted || r.Status == SyncStatusPartial
}

// ConnectionStatus describes the last known health of an exchange link.
type ConnectionStatus string

const (
	ConnectionStatusUnknown      ConnectionStatus = "unknown"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusError        ConnectionStatus = "error"
)

// ExchangeState is the persisted per-exchange runtime record. Static
// settings (credentials, rate limits, active flag) live in configuration;
// this is only what sync runs learn at runtime.
type ExchangeState struct {
	Exchange         string           `json:"exchange"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	LastSyncAt       *time.Time       `json:"last_sync_at,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// SyncHealthStatus buckets an exchange by the age of its last sync.
type SyncHealthStatus string

const (
	SyncHealthHealthy     SyncHealthStatus = "healthy"
	SyncHealthStale       SyncHealthStatus = "stale"
	SyncHealthNeverSynced SyncHealthStatus = "never_synced"
)

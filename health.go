package scopedb

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus is the outcome of one round trip through the pool.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Code    ErrorCode     `json:"code,omitempty"`
	Error   string        `json:"error,omitempty"`
	Pool    *PoolStats    `json:"pool,omitempty"`
}

// PoolStats is a driver independent snapshot of a connection pool.
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
	// Connections closed by the idle or lifetime limits.
	Expired int64 `json:"expired"`
}

// StatsProvider is implemented by pools that report statistics
type StatsProvider interface {
	Stats() PoolStats
}

// Health runs the ping query and reports its latency, the classified
// failure if any, and the pool snapshot taken after the connection was
// given back.
func (db *DB) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	err := db.Ping(ctx)

	status := HealthStatus{Healthy: err == nil, Latency: time.Since(start)}
	if err != nil {
		status.Error = err.Error()
		status.Code, _ = GetErrorCode(err)
	}
	if sp, ok := db.pool.pool.(StatsProvider); ok {
		stats := sp.Stats()
		status.Pool = &stats
	}
	return status
}

// IsHealthy reports whether the ping query succeeds
func (db *DB) IsHealthy(ctx context.Context) bool {
	return db.Ping(ctx) == nil
}

// PoolStatsFromSQL converts database/sql statistics.
func PoolStatsFromSQL(s sql.DBStats) PoolStats {
	return PoolStats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
		Expired:            s.MaxIdleClosed + s.MaxIdleTimeClosed + s.MaxLifetimeClosed,
	}
}

package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus represents database health and connection pool statistics.
type HealthStatus struct {
	Status          string        `json:"status"`
	ResponseTime    time.Duration `json:"response_time_ms"`
	OpenConnections int32         `json:"open_connections"`
	InUse           int32         `json:"in_use"`
	Idle            int32         `json:"idle"`
	MaxOpenConns    int32         `json:"max_open_conns"`
}

// Health checks database connectivity and returns connection pool statistics
// for the pgx pool every repository package shares.
func Health(ctx context.Context, pool *pgxpool.Pool) (*HealthStatus, error) {
	start := time.Now()

	if err := pool.Ping(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start),
		}, err
	}

	stats := pool.Stat()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start),
		OpenConnections: stats.TotalConns(),
		InUse:           stats.AcquiredConns(),
		Idle:            stats.IdleConns(),
		MaxOpenConns:    stats.MaxConns(),
	}, nil
}

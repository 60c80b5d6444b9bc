package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is a snapshot of the connection pool.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	s := pool.Stat()
	return &PoolStats{
		TotalConns:      s.TotalConns(),
		IdleConns:       s.IdleConns(),
		AcquiredConns:   s.AcquiredConns(),
		MaxConns:        s.MaxConns(),
		AcquireCount:    s.AcquireCount(),
		AcquireDuration: s.AcquireDuration().String(),
	}
}

type healthReport struct {
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	Pool      *PoolStats `json:"pool"`
	CheckedAt time.Time  `json:"checked_at"`
}

const healthTimeout = 5 * time.Second

// HealthHandler answers 200 when the database responds to a ping within
// five seconds and 503 otherwise. Pool statistics are included either way.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return healthHandler(pool.Ping, func() *PoolStats { return GetPoolStats(pool) })
}

func healthHandler(ping func(context.Context) error, stats func() *PoolStats) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		report := healthReport{Status: "healthy", CheckedAt: time.Now().UTC()}
		status := http.StatusOK
		if err := ping(ctx); err != nil {
			report.Status, report.Error = "unhealthy", err.Error()
			status = http.StatusServiceUnavailable
		}
		report.Pool = stats()
		return c.JSON(status, report)
	}
}

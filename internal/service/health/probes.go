package health

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/scribehq/scribe/core/internal/domain"
)

// ProbeResult is what a Prober reports on success.
type ProbeResult struct {
	Status domain.HealthStatus
	Detail map[string]string
}

// Prober checks one dependency. Returning an error or exceeding the
// descriptor timeout both count as unhealthy.
type Prober interface {
	Probe(ctx context.Context) (ProbeResult, error)
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(ctx context.Context) (ProbeResult, error)

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context) (ProbeResult, error) {
	return f(ctx)
}

// DatabaseProber pings a pgx pool.
func DatabaseProber(pool *pgxpool.Pool) Prober {
	return ProberFunc(func(ctx context.Context) (ProbeResult, error) {
		if pool == nil {
			return ProbeResult{}, fmt.Errorf("database pool not configured")
		}
		if err := pool.Ping(ctx); err != nil {
			return ProbeResult{}, fmt.Errorf("ping database: %w", err)
		}
		stat := pool.Stat()
		return ProbeResult{
			Status: domain.StatusHealthy,
			Detail: map[string]string{
				"total_conns": strconv.FormatInt(int64(stat.TotalConns()), 10),
				"idle_conns":  strconv.FormatInt(int64(stat.IdleConns()), 10),
			},
		}, nil
	})
}

// CacheProber pings a Redis client.
func CacheProber(client *redis.Client) Prober {
	return ProberFunc(func(ctx context.Context) (ProbeResult, error) {
		if client == nil {
			return ProbeResult{}, fmt.Errorf("redis client not configured")
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return ProbeResult{}, fmt.Errorf("ping redis: %w", err)
		}
		return ProbeResult{Status: domain.StatusHealthy}, nil
	})
}

// HTTPProber issues a GET against an internal or external endpoint. 2xx is
// healthy, 5xx is unhealthy, anything else is degraded.
func HTTPProber(client *http.Client, url string) Prober {
	if client == nil {
		client = &http.Client{}
	}
	return ProberFunc(func(ctx context.Context) (ProbeResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return ProbeResult{}, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return ProbeResult{}, fmt.Errorf("probe %s: %w", url, err)
		}
		defer resp.Body.Close()

		detail := map[string]string{"status_code": strconv.Itoa(resp.StatusCode)}
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return ProbeResult{Status: domain.StatusHealthy, Detail: detail}, nil
		case resp.StatusCode >= 500:
			return ProbeResult{Status: domain.StatusUnhealthy, Detail: detail}, nil
		default:
			return ProbeResult{Status: domain.StatusDegraded, Detail: detail}, nil
		}
	})
}

// RuntimeProberOptions bound the Go runtime probe.
type RuntimeProberOptions struct {
	MaxGoroutines  int
	MaxHeapBytes   uint64
	WarnGoroutines int
	WarnHeapBytes  uint64
}

// RuntimeProber inspects the application runtime itself via real
// instrumentation: heap in use and goroutine count against thresholds.
func RuntimeProber(opts RuntimeProberOptions) Prober {
	if opts.MaxGoroutines <= 0 {
		opts.MaxGoroutines = 10000
	}
	if opts.WarnGoroutines <= 0 {
		opts.WarnGoroutines = opts.MaxGoroutines / 2
	}
	if opts.MaxHeapBytes == 0 {
		opts.MaxHeapBytes = 1 << 31 // 2 GiB
	}
	if opts.WarnHeapBytes == 0 {
		opts.WarnHeapBytes = opts.MaxHeapBytes / 2
	}
	return ProberFunc(func(ctx context.Context) (ProbeResult, error) {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		goroutines := runtime.NumGoroutine()

		detail := map[string]string{
			"goroutines":    strconv.Itoa(goroutines),
			"heap_in_use":   strconv.FormatUint(stats.HeapInuse, 10),
			"gc_pause_last": time.Duration(stats.PauseNs[(stats.NumGC+255)%256]).String(),
		}
		status := domain.StatusHealthy
		if goroutines > opts.WarnGoroutines || stats.HeapInuse > opts.WarnHeapBytes {
			status = domain.StatusDegraded
		}
		if goroutines > opts.MaxGoroutines || stats.HeapInuse > opts.MaxHeapBytes {
			status = domain.StatusUnhealthy
		}
		return ProbeResult{Status: status, Detail: detail}, nil
	})
}

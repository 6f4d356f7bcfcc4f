package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ioggstream/pn-delivery/internal/circuitbreaker"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string                 `json:"status"`
	Database     string                 `json:"database"`
	Redis        string                 `json:"redis"`
	Dependencies []circuitbreaker.Stats `json:"dependencies,omitempty"`
}

// HealthHandler answers 503 when the database is down. An unreachable
// redis or a breaker that is not closed reports the service as degraded
// with a 200. A nil redis is reported as disabled.
func HealthHandler(db, redis Pinger, breakers ...*circuitbreaker.Breaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Database: "ok", Redis: "disabled"}
		code := http.StatusOK

		if redis != nil {
			resp.Redis = "ok"
			if err := redis.Health(r.Context()); err != nil {
				resp.Redis = err.Error()
				resp.Status = "degraded"
			}
		}

		for _, b := range breakers {
			stats := b.Stats()
			if stats.State != circuitbreaker.StateClosed.String() {
				resp.Status = "degraded"
			}
			resp.Dependencies = append(resp.Dependencies, stats)
		}

		if err := db.Health(r.Context()); err != nil {
			resp.Status = "unavailable"
			resp.Database = err.Error()
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

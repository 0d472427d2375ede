package debughttp

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"
)

var startedAt = time.Now()

// statuszEnvelope wraps the caller-supplied status with process-level facts
// so /statusz is useful even when no StatusFunc is wired.
type statuszEnvelope struct {
	PID        int       `json:"pid"`
	Uptime     string    `json:"uptime"`
	Goroutines int       `json:"goroutines"`
	Go         string    `json:"go"`
	At         time.Time `json:"at"`
	Status     any       `json:"status,omitempty"`
}

func (s *Service) serveStatusz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()

	env := statuszEnvelope{
		PID:        os.Getpid(),
		Uptime:     time.Since(startedAt).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Go:         runtime.Version(),
		At:         time.Now(),
	}
	if status != nil {
		env.Status = status(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		s.log.Debug("statusz encode failed")
	}
}

package capability

import (
	"sync"
	"time"
)

// Metrics is the runtime record returned by GetMetrics. Times are Unix
// seconds; Uptime is in seconds.
type Metrics struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Version      string `json:"version"`
	Status       string `json:"status"`
	Uptime       int64  `json:"uptime"`
	CallCount    int64  `json:"call_count"`
	ErrorCount   int64  `json:"error_count"`
	LastError    string `json:"last_error,omitempty"`
	LastCallTime int64  `json:"last_call_time"`
}

// CallStats counts calls served through a Table. A nil *CallStats ignores
// records.
type CallStats struct {
	startedAt time.Time

	mu        sync.Mutex
	calls     int64
	errors    int64
	lastError string
	lastCall  time.Time
}

func newCallStats() *CallStats {
	return &CallStats{startedAt: time.Now()}
}

// Record counts one finished call. errMsg is empty on success.
func (s *CallStats) Record(errMsg string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastCall = time.Now()
	if errMsg != "" {
		s.errors++
		s.lastError = errMsg
	}
}

func (s *CallStats) metrics(c Capability) Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Metrics{
		Name:       c.Identify(),
		Type:       string(c.Kind()),
		Version:    c.Version(),
		Status:     "running",
		Uptime:     int64(time.Since(s.startedAt) / time.Second),
		CallCount:  s.calls,
		ErrorCount: s.errors,
		LastError:  s.lastError,
	}
	if !s.lastCall.IsZero() {
		m.LastCallTime = s.lastCall.Unix()
	}
	return m
}

// Package botmonitor keeps a bounded in-memory trail of pipeline events for
// the status surface. One Monitor per engine instance; no package state.
package botmonitor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stages recorded by the response pipeline.
const (
	StageInbound   = "inbound"
	StageCacheHit  = "cache_hit"
	StageGrounding = "grounding"
	StageAIRequest = "ai_request"
	StageAIReply   = "ai_reply"
	StageFailover  = "failover"
)

// Event is one pipeline observation.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	TraceID    string            `json:"trace_id"`
	ChannelID  string            `json:"channel_id"`
	UserID     string            `json:"user_id"`
	Provider   string            `json:"provider,omitempty"`
	Stage      string            `json:"stage"`
	Status     string            `json:"status"` // ok | error | skipped
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
}

// Stats is the aggregate view plus the recent event window.
type Stats struct {
	TotalInbound   int64   `json:"total_inbound"`
	TotalRequests  int64   `json:"total_ai_requests"`
	TotalReplies   int64   `json:"total_ai_replies"`
	TotalCacheHits int64   `json:"total_cache_hits"`
	TotalGrounded  int64   `json:"total_grounded"`
	TotalFailovers int64   `json:"total_failovers"`
	TotalErrors    int64   `json:"total_errors"`
	RecentEvents   []Event `json:"recent_events"`
}

// Monitor is a fixed-size ring buffer of events with running counters.
type Monitor struct {
	mu     sync.Mutex
	events []Event
	idx    int
	count  int

	totalInbound   int64
	totalRequests  int64
	totalReplies   int64
	totalCacheHits int64
	totalGrounded  int64
	totalFailovers int64
	totalErrors    int64
}

// New creates a monitor retaining the last size events (default 200).
func New(size int) *Monitor {
	if size <= 0 {
		size = 200
	}
	return &Monitor{events: make([]Event, size)}
}

// Record stores an event and bumps the matching counters.
func (m *Monitor) Record(e Event) {
	e.Timestamp = time.Now().UTC()

	switch e.Stage {
	case StageInbound:
		atomic.AddInt64(&m.totalInbound, 1)
	case StageAIRequest:
		atomic.AddInt64(&m.totalRequests, 1)
	case StageAIReply:
		if e.Status == "ok" {
			atomic.AddInt64(&m.totalReplies, 1)
		}
	case StageCacheHit:
		atomic.AddInt64(&m.totalCacheHits, 1)
	case StageGrounding:
		atomic.AddInt64(&m.totalGrounded, 1)
	case StageFailover:
		atomic.AddInt64(&m.totalFailovers, 1)
	}
	if e.Status == "error" {
		atomic.AddInt64(&m.totalErrors, 1)
	}

	m.mu.Lock()
	m.events[m.idx] = e
	m.idx = (m.idx + 1) % len(m.events)
	if m.count < len(m.events) {
		m.count++
	}
	m.mu.Unlock()
}

// GetStats snapshots the counters and the retained events, oldest first.
func (m *Monitor) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make([]Event, 0, m.count)
	start := (m.idx - m.count + len(m.events)) % len(m.events)
	for i := 0; i < m.count; i++ {
		res = append(res, m.events[(start+i)%len(m.events)])
	}

	return Stats{
		TotalInbound:   atomic.LoadInt64(&m.totalInbound),
		TotalRequests:  atomic.LoadInt64(&m.totalRequests),
		TotalReplies:   atomic.LoadInt64(&m.totalReplies),
		TotalCacheHits: atomic.LoadInt64(&m.totalCacheHits),
		TotalGrounded:  atomic.LoadInt64(&m.totalGrounded),
		TotalFailovers: atomic.LoadInt64(&m.totalFailovers),
		TotalErrors:    atomic.LoadInt64(&m.totalErrors),
		RecentEvents:   res,
	}
}

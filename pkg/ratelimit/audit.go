package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the security events the audit log records.
type EventType string

const (
	EventNewUser             EventType = "new_user"
	EventRateLimitExceeded   EventType = "rate_limit_exceeded"
	EventConfigurationChange EventType = "configuration_change"
)

// AuditEvent is one entry in the audit log.
type AuditEvent struct {
	ID        string
	Timestamp time.Time
	Type      EventType
	Identity  string
	Endpoint  string
	Tier      Tier
	Region    string
}

// AuditFilter narrows a query to a subset of {identity, type, start_time}.
// Zero-valued fields are not applied.
type AuditFilter struct {
	Identity  string
	Type      EventType
	StartTime time.Time
}

func (f AuditFilter) matches(e AuditEvent) bool {
	if f.Identity != "" && e.Identity != f.Identity {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	return true
}

// auditLog is a bounded, FIFO-evicting ring of security events. Logging is
// gated by enabled; when disabled, append is a no-op but query still
// returns the (empty) history rather than erroring.
type auditLog struct {
	mu       sync.Mutex
	events   []AuditEvent
	capacity int
	next     int
	size     int
	enabled  bool
	clock    clock
}

// defaultAuditCapacity is the default ring size.
const defaultAuditCapacity = 1000

func newAuditLog(capacity int, enabled bool, clk clock) *auditLog {
	if capacity <= 0 {
		capacity = defaultAuditCapacity
	}
	return &auditLog{
		events:   make([]AuditEvent, capacity),
		capacity: capacity,
		enabled:  enabled,
		clock:    clk,
	}
}

// append pushes event into the ring, evicting the oldest entry once full.
func (a *auditLog) append(e AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return
	}

	e.ID = uuid.NewString()
	e.Timestamp = a.clock.Now()

	a.events[a.next] = e
	a.next = (a.next + 1) % a.capacity
	if a.size < a.capacity {
		a.size++
	}
}

// query returns a copy of every stored event matching filter, oldest first.
func (a *auditLog) query(filter AuditFilter) []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]AuditEvent, 0, a.size)
	start := a.next - a.size
	if start < 0 {
		start += a.capacity
	}
	for i := 0; i < a.size; i++ {
		idx := (start + i) % a.capacity
		if filter.matches(a.events[idx]) {
			out = append(out, a.events[idx])
		}
	}
	return out
}

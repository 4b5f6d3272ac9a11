// Package audit records who did what to the ledger. Sinks never block the caller.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/sirupsen/logrus"
)

type Entry struct {
	ActorID   uuid.UUID      `json:"actor_id"`
	Role      models.Role    `json:"role"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink is an append-only, fire-and-forget audit log.
type Sink interface {
	Record(e Entry)
}

// LogSink writes entries to a logrus logger.
type LogSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(e Entry) {
	s.logger.WithFields(logrus.Fields{
		"audit":     true,
		"actor_id":  e.ActorID.String(),
		"role":      e.Role,
		"action":    e.Action,
		"details":   e.Details,
		"timestamp": e.Timestamp,
	}).Info("audit")
}

// Memory keeps entries in memory.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *Memory) Record(e Entry) {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
}

func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Package session manages the lifecycle of reasoning sessions: admission
// caps, engine ownership, serialized evaluation with timeouts, and idle
// eviction.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"reasond/internal/core"
)

// Kind selects which engine a session owns.
type Kind string

const (
	KindRule  Kind = "rule"
	KindLogic Kind = "logic"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusEvaluating   Status = "evaluating"
	StatusPaused       Status = "paused"
	StatusSuspended    Status = "suspended"
	StatusTerminated   Status = "terminated"
)

// Metadata describes one session.
type Metadata struct {
	ID        string
	Principal string
	Name      string
	Kind      Kind
	Status    Status
	Started   time.Time
	Touched   time.Time
	Limits    core.ResourceLimits
	Usage     core.ResourceUsage
}

// maxIDLen bounds session identifiers for log and path friendliness.
const maxIDLen = 32

// NewID builds a session identifier from a millisecond timestamp and a
// random disambiguator.
func NewID() string {
	id := fmt.Sprintf("sess-%x-%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", ""))
	if len(id) > maxIDLen {
		id = id[:maxIDLen]
	}
	return id
}

// Response converts metadata to its REST wire shape.
func (m Metadata) Response() core.SessionResponse {
	return core.SessionResponse{
		SessionID: m.ID,
		UserID:    m.Principal,
		Name:      m.Name,
		Started:   m.Started.UTC().Format(time.RFC3339),
		Touched:   m.Touched.UTC().Format(time.RFC3339),
		Status:    string(m.Status),
		Resources: m.Usage,
		Limits:    m.Limits,
	}
}

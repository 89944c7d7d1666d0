package stores

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// InvocationStatus summarizes how an invocation ended.
type InvocationStatus string

const (
	InvocationStatusOK      InvocationStatus = "ok"
	InvocationStatusChanged InvocationStatus = "changed"
	InvocationStatusFailed  InvocationStatus = "failed"
)

// PackageAction is the last change the engine made to a package.
type PackageAction string

const (
	PackageActionInstalled PackageAction = "installed"
	PackageActionUpdated   PackageAction = "updated"
	PackageActionRemoved   PackageAction = "removed"
	PackageActionUnchanged PackageAction = "unchanged"
)

// InvocationRecord is one persisted engine invocation.
type InvocationRecord struct {
	ID          string           `json:"id"`
	Operation   string           `json:"operation"`
	Helper      string           `json:"helper"`
	Packages    []string         `json:"packages"`
	Request     string           `json:"request"` // JSON blob
	CheckMode   bool             `json:"check_mode"`
	Status      InvocationStatus `json:"status"`
	Changed     bool             `json:"changed"`
	Failed      bool             `json:"failed"`
	RC          int              `json:"rc"`
	Msg         string           `json:"msg"`
	Outcome     *string          `json:"outcome,omitempty"` // JSON blob
	Error       *string          `json:"error,omitempty"`
	ErrorKind   string           `json:"error_kind,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	Results     []*PackageRecord `json:"results,omitempty"`
}

// Duration is how long the invocation ran.
func (r *InvocationRecord) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// PackageRecord is the terminal phase of one package within an invocation.
type PackageRecord struct {
	ID           int64  `json:"id"`
	InvocationID string `json:"invocation_id"`
	Package      string `json:"package"`
	Phase        string `json:"phase"`
	Changed      bool   `json:"changed"`
	RC           int    `json:"rc"`
}

// PackageState is the last state the engine left a package in.
type PackageState struct {
	Name             string        `json:"name"`
	Installed        bool          `json:"installed"`
	Helper           string        `json:"helper"`
	LastAction       PackageAction `json:"last_action"`
	LastInvocationID string        `json:"last_invocation_id"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// InvocationFilter narrows ListInvocations. Zero values match everything.
type InvocationFilter struct {
	Operation string
	Package   string
	Limit     int
	Offset    int
}

package model

import "time"

// Action is a mutation action recorded in the journal
type Action string

const (
	ActionInsert Action = "insert"
	ActionMerge  Action = "merge"
	ActionSave   Action = "save"
	ActionDelete Action = "delete"
)

// Known reports whether the action is one the pipeline accepts.
func (a Action) Known() bool {
	switch a {
	case ActionInsert, ActionMerge, ActionSave, ActionDelete:
		return true
	}
	return false
}

// Mutating reports whether the action writes a record (as opposed to deleting one).
func (a Action) Mutating() bool {
	return a == ActionInsert || a == ActionMerge || a == ActionSave
}

// JournalEntry is one immutable event in a (tenant, module) journal.
// Sequence is a per-(tenant, module) monotonic counter independent of the
// store version; it never resets, even across process restarts.
type JournalEntry struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenantId"`
	ModuleID   string                 `json:"moduleId"`
	Table      string                 `json:"table"`
	Action     Action                 `json:"action"`
	Record     Record                 `json:"record,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
	Sequence   int64                  `json:"sequence"`
	CreatedAt  time.Time              `json:"createdAt"`
	RecordedAt time.Time              `json:"recordedAt"`
}

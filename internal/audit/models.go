package audit

import "time"

// Entry is an immutable audit fact: a decision that was made, or an action
// that completed. Scope holds small structured context only, never log content.
type Entry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
	Outcome   Outcome        `json:"outcome"`
	Reason    string         `json:"reason,omitempty"`
	Scope     map[string]any `json:"scope,omitempty"`
}

type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
)

func (o Outcome) Valid() bool { return o == OutcomeAllowed || o == OutcomeDenied }

// Channels partition the log. Each is stored and bounded independently.
const (
	ChannelQuery = "query"
	ChannelAdmin = "admin"
)

// DeniedSuffix marks actions recorded for a denied request.
const DeniedSuffix = "_denied"

// Allowed builds an entry for a completed action.
func Allowed(action, userID string, scope map[string]any) Entry {
	return Entry{Action: action, UserID: userID, Outcome: OutcomeAllowed, Scope: scope}
}

// Denied builds an entry for a refused request; the action gets DeniedSuffix.
func Denied(action, userID, reason string, scope map[string]any) Entry {
	return Entry{Action: action + DeniedSuffix, UserID: userID, Outcome: OutcomeDenied, Reason: reason, Scope: scope}
}

// Filter selects entries for Read. Empty fields match everything.
type Filter struct {
	UserID  string
	Outcome Outcome
	Offset  int
	Limit   int
}

// Page is one slice of a filtered read. Total counts all matches.
type Page struct {
	Total   int     `json:"total"`
	Entries []Entry `json:"entries"`
}

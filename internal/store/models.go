package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound marks lookups that addressed a missing document, proposal,
// thread, or commit. Transports translate it to a 404-class error.
var ErrNotFound = errors.New("store: not found")

type User struct {
	ID          string
	DisplayName string
	IsExternal  bool
	CreatedAt   time.Time
}

type Document struct {
	ID        string
	Title     string
	Subtitle  string
	Status    string
	UpdatedBy string
	UpdatedAt time.Time
}

type Proposal struct {
	ID           string
	DocumentID   string
	Title        string
	Status       string
	BranchName   string
	TargetBranch string
	CreatedBy    string
	CreatedAt    time.Time
}

// Thread carries its deliberation state as first-class fields: one recorded
// vote direction per user and one reactor set per emoji.
type Thread struct {
	ID               string
	ProposalID       string
	AnchorNodeID     string
	AnchorOffsets    json.RawMessage
	AnchorQuote      string
	Body             string
	Status           string
	Type             string
	Visibility       string
	Outcome          string
	ResolutionNote   string
	Author           string
	VoteCount        int
	VotesByUser      map[string]string
	ReactionsByEmoji map[string][]string
	Replies          []Reply
	CreatedAt        time.Time
}

type Reply struct {
	ID        string
	ThreadID  string
	Author    string
	Body      string
	CreatedAt time.Time
}

type Approval struct {
	Role       string
	Status     string
	ApprovedBy string
	ApprovedAt *time.Time
}

type DecisionLogEntry struct {
	ID           int64
	DocumentID   string
	ProposalID   string
	ThreadID     string
	Outcome      string
	Rationale    string
	DecidedBy    string
	DecidedAt    time.Time
	CommitHash   string
	Participants []string
}

type AuditEvent struct {
	ID         int64
	EventType  string
	ActorName  string
	DocumentID string
	ProposalID string
	ThreadID   string
	Payload    map[string]any
	CreatedAt  time.Time
}

type NamedVersion struct {
	ProposalID string
	Name       string
	Hash       string
	CreatedBy  string
	CreatedAt  time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
	Added     int
	Removed   int
}

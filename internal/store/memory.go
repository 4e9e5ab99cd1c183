package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"quorum/api/internal/util"
)

// MemoryStore is the fallback used when no database URL is configured, and
// the default backend in tests. It mirrors PostgresStore's behavior,
// including the append-only logs.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]User
	documents     map[string]Document
	proposals     map[string]Proposal
	threads       map[string]Thread
	replies       map[string][]Reply
	approvals     map[string][]Approval
	decisions     []DecisionLogEntry
	audits        []AuditEvent
	namedVersions []NamedVersion
	decisionSeq   int64
	auditSeq      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]User),
		documents: make(map[string]Document),
		proposals: make(map[string]Proposal),
		threads:   make(map[string]Thread),
		replies:   make(map[string][]Reply),
		approvals: make(map[string][]Approval),
	}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) EnsureUserByName(_ context.Context, name string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.DisplayName == name {
			return user, nil
		}
	}
	user := User{ID: util.NewID("usr"), DisplayName: name, CreatedAt: time.Now()}
	s.users[user.ID] = user
	return user, nil
}

func (s *MemoryStore) ListDocuments(context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Document, 0, len(s.documents))
	for _, item := range s.documents {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	return items, nil
}

func (s *MemoryStore) GetDocument(_ context.Context, documentID string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.documents[documentID]
	if !ok {
		return Document{}, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	return item, nil
}

func (s *MemoryStore) InsertDocument(_ context.Context, item Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[item.ID]; ok {
		return nil
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now()
	}
	s.documents[item.ID] = item
	return nil
}

func (s *MemoryStore) UpdateDocumentState(_ context.Context, documentID, title, subtitle, status, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.documents[documentID]
	if !ok {
		return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	item.Title = title
	item.Subtitle = subtitle
	item.Status = status
	item.UpdatedBy = updatedBy
	item.UpdatedAt = time.Now()
	s.documents[documentID] = item
	return nil
}

func (s *MemoryStore) CreateProposal(_ context.Context, proposal Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = time.Now()
	}
	s.proposals[proposal.ID] = proposal
	return nil
}

func (s *MemoryStore) GetProposal(_ context.Context, proposalID string) (Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.proposals[proposalID]
	if !ok {
		return Proposal{}, fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
	}
	return item, nil
}

func (s *MemoryStore) GetActiveProposal(_ context.Context, documentID string) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active *Proposal
	for _, item := range s.proposals {
		if item.DocumentID != documentID || item.Status == "MERGED" || item.Status == "REJECTED" {
			continue
		}
		candidate := item
		if active == nil || candidate.CreatedAt.After(active.CreatedAt) {
			active = &candidate
		}
	}
	return active, nil
}

func (s *MemoryStore) UpdateProposalStatus(_ context.Context, proposalID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.proposals[proposalID]
	if !ok {
		return fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
	}
	item.Status = status
	s.proposals[proposalID] = item
	return nil
}

func (s *MemoryStore) SeedApprovals(_ context.Context, proposalID string, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := map[string]bool{}
	for _, approval := range s.approvals[proposalID] {
		existing[approval.Role] = true
	}
	for _, role := range roles {
		if existing[role] {
			continue
		}
		s.approvals[proposalID] = append(s.approvals[proposalID], Approval{Role: role, Status: "PENDING"})
	}
	return nil
}

func (s *MemoryStore) ListApprovals(_ context.Context, proposalID string) ([]Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Approval, len(s.approvals[proposalID]))
	copy(items, s.approvals[proposalID])
	sort.Slice(items, func(i, j int) bool { return items[i].Role < items[j].Role })
	return items, nil
}

func (s *MemoryStore) ApproveRole(_ context.Context, proposalID, role, approvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, approval := range s.approvals[proposalID] {
		if approval.Role != role || approval.Status == "APPROVED" {
			continue
		}
		now := time.Now()
		s.approvals[proposalID][i].Status = "APPROVED"
		s.approvals[proposalID][i].ApprovedBy = approvedBy
		s.approvals[proposalID][i].ApprovedAt = &now
	}
	return nil
}

func (s *MemoryStore) PendingApprovalCount(_ context.Context, proposalID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, approval := range s.approvals[proposalID] {
		if approval.Status != "APPROVED" {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) InsertThread(_ context.Context, thread Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now()
	}
	if thread.VotesByUser == nil {
		thread.VotesByUser = map[string]string{}
	}
	if thread.ReactionsByEmoji == nil {
		thread.ReactionsByEmoji = map[string][]string{}
	}
	thread.Replies = nil
	s.threads[thread.ID] = thread
	return nil
}

func (s *MemoryStore) GetThread(_ context.Context, proposalID, threadID string) (Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[threadID]
	if !ok || thread.ProposalID != proposalID {
		return Thread{}, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	return s.copyThread(thread), nil
}

func (s *MemoryStore) ListThreads(_ context.Context, proposalID string, includeInternal bool) ([]Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []Thread
	for _, thread := range s.threads {
		if thread.ProposalID != proposalID {
			continue
		}
		if !includeInternal && thread.Visibility != "EXTERNAL" {
			continue
		}
		items = append(items, s.copyThread(thread))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (s *MemoryStore) OpenThreadCount(_ context.Context, proposalID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, thread := range s.threads {
		if thread.ProposalID == proposalID && thread.Status == "OPEN" {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) InsertReply(_ context.Context, reply Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[reply.ThreadID]; !ok {
		return fmt.Errorf("thread %s: %w", reply.ThreadID, ErrNotFound)
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now()
	}
	s.replies[reply.ThreadID] = append(s.replies[reply.ThreadID], reply)
	return nil
}

func (s *MemoryStore) UpdateThreadVotes(_ context.Context, threadID string, voteCount int, votesByUser map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[threadID]
	if !ok {
		return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	thread.VoteCount = voteCount
	thread.VotesByUser = copyVotes(votesByUser)
	s.threads[threadID] = thread
	return nil
}

func (s *MemoryStore) UpdateThreadReactions(_ context.Context, threadID string, reactionsByEmoji map[string][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[threadID]
	if !ok {
		return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	thread.ReactionsByEmoji = copyReactions(reactionsByEmoji)
	s.threads[threadID] = thread
	return nil
}

func (s *MemoryStore) ResolveThread(_ context.Context, proposalID, threadID, outcome, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[threadID]
	if !ok || thread.ProposalID != proposalID || thread.Status != "OPEN" {
		return false, nil
	}
	thread.Status = "RESOLVED"
	thread.Outcome = outcome
	thread.ResolutionNote = note
	s.threads[threadID] = thread
	return true, nil
}

func (s *MemoryStore) ReopenThread(_ context.Context, proposalID, threadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[threadID]
	if !ok || thread.ProposalID != proposalID || thread.Status != "RESOLVED" {
		return false, nil
	}
	thread.Status = "OPEN"
	thread.Outcome = ""
	thread.ResolutionNote = ""
	s.threads[threadID] = thread
	return true, nil
}

func (s *MemoryStore) UpdateThreadVisibility(_ context.Context, proposalID, threadID, visibility string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[threadID]
	if !ok || thread.ProposalID != proposalID {
		return false, nil
	}
	thread.Visibility = visibility
	s.threads[threadID] = thread
	return true, nil
}

func (s *MemoryStore) InsertDecisionLog(_ context.Context, entry DecisionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisionSeq++
	entry.ID = s.decisionSeq
	if entry.DecidedAt.IsZero() {
		entry.DecidedAt = time.Now()
	}
	if entry.Participants == nil {
		entry.Participants = []string{}
	}
	s.decisions = append(s.decisions, entry)
	return nil
}

func (s *MemoryStore) ListDecisionLogFiltered(_ context.Context, documentID, proposalID, outcome, author, query string, limit int) ([]DecisionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var items []DecisionLogEntry
	for _, entry := range s.decisions {
		if documentID != "" && entry.DocumentID != documentID {
			continue
		}
		if proposalID != "" && entry.ProposalID != proposalID {
			continue
		}
		if outcome != "" && entry.Outcome != outcome {
			continue
		}
		if author != "" && !containsFold(entry.DecidedBy, author) {
			continue
		}
		if query != "" && !matchesDecisionQuery(entry, query) {
			continue
		}
		items = append(items, entry)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].DecidedAt.Equal(items[j].DecidedAt) {
			return items[i].DecidedAt.After(items[j].DecidedAt)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) InsertAuditEvent(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditSeq++
	event.ID = s.auditSeq
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	s.audits = append(s.audits, event)
	return nil
}

func (s *MemoryStore) ListAuditEvents(_ context.Context, documentID string, limit int) ([]AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var items []AuditEvent
	for _, event := range s.audits {
		if event.DocumentID == documentID {
			items = append(items, event)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) InsertNamedVersion(_ context.Context, proposalID, name, hash, createdBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.namedVersions {
		if item.ProposalID == proposalID && item.Name == name {
			s.namedVersions[i].Hash = hash
			s.namedVersions[i].CreatedBy = createdBy
			return nil
		}
	}
	s.namedVersions = append(s.namedVersions, NamedVersion{
		ProposalID: proposalID,
		Name:       name,
		Hash:       hash,
		CreatedBy:  createdBy,
		CreatedAt:  time.Now(),
	})
	return nil
}

func (s *MemoryStore) ListNamedVersions(_ context.Context, proposalID string) ([]NamedVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []NamedVersion
	for _, item := range s.namedVersions {
		if item.ProposalID == proposalID || item.ProposalID == "" {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (s *MemoryStore) PromoteNamedVersions(_ context.Context, proposalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	canonical := map[string]bool{}
	for _, item := range s.namedVersions {
		if item.ProposalID == "" {
			canonical[item.Name] = true
		}
	}
	for i, item := range s.namedVersions {
		if item.ProposalID == proposalID && !canonical[item.Name] {
			s.namedVersions[i].ProposalID = ""
		}
	}
	return nil
}

func (s *MemoryStore) copyThread(thread Thread) Thread {
	out := thread
	out.VotesByUser = copyVotes(thread.VotesByUser)
	out.ReactionsByEmoji = copyReactions(thread.ReactionsByEmoji)
	out.Replies = make([]Reply, len(s.replies[thread.ID]))
	copy(out.Replies, s.replies[thread.ID])
	return out
}

func copyVotes(votes map[string]string) map[string]string {
	out := make(map[string]string, len(votes))
	for user, direction := range votes {
		out[user] = direction
	}
	return out
}

func copyReactions(reactions map[string][]string) map[string][]string {
	out := make(map[string][]string, len(reactions))
	for emoji, reactors := range reactions {
		copied := make([]string, len(reactors))
		copy(copied, reactors)
		out[emoji] = copied
	}
	return out
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func matchesDecisionQuery(entry DecisionLogEntry, query string) bool {
	if containsFold(entry.Rationale, query) || containsFold(entry.DecidedBy, query) || containsFold(entry.CommitHash, query) {
		return true
	}
	for _, participant := range entry.Participants {
		if containsFold(participant, query) {
			return true
		}
	}
	return false
}

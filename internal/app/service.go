package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"quorum/api/internal/approval"
	"quorum/api/internal/auth"
	"quorum/api/internal/config"
	"quorum/api/internal/deliberation"
	"quorum/api/internal/diff"
	"quorum/api/internal/lifecycle"
	"quorum/api/internal/revision"
	"quorum/api/internal/session"
	"quorum/api/internal/store"
	"quorum/api/internal/util"

	"github.com/rs/zerolog"
)

type Session struct {
	Token      string
	UserID     string
	UserName   string
	IsExternal bool
	ExpiresAt  time.Time
}

// Viewer identifies the caller inside service operations.
type Viewer struct {
	Name       string
	IsExternal bool
}

func (s Session) Viewer() Viewer {
	return Viewer{Name: s.UserName, IsExternal: s.IsExternal}
}

type WorkspaceContent struct {
	Title    string          `json:"title"`
	Subtitle string          `json:"subtitle"`
	Purpose  string          `json:"purpose"`
	Tiers    string          `json:"tiers"`
	Enforce  string          `json:"enforce"`
	Doc      json.RawMessage `json:"doc,omitempty"`
}

type CreateThreadInput struct {
	Text          string          `json:"text"`
	AnchorNodeID  string          `json:"anchorNodeId"`
	AnchorOffsets json.RawMessage `json:"anchorOffsets"`
	Quote         string          `json:"quote"`
	Visibility    string          `json:"visibility"`
	Type          string          `json:"type"`
}

type ThreadReplyInput struct {
	Body string `json:"body"`
}

type ResolveThreadInput struct {
	Outcome   string `json:"outcome"`
	Rationale string `json:"rationale"`
}

type VoteThreadInput struct {
	Direction string `json:"direction"`
}

type ReactThreadInput struct {
	Emoji string `json:"emoji"`
}

type UpdateThreadVisibilityInput struct {
	Visibility string `json:"visibility"`
}

type DecisionLogFilterInput struct {
	ProposalID string
	Outcome    string
	Query      string
	Author     string
	Limit      int
}

// The governance outcomes a Decision Ledger entry may carry.
var allowedLedgerOutcomes = map[string]struct{}{
	"SUBMITTED": {},
	"APPROVED":  {},
	"ACCEPTED":  {},
	"REJECTED":  {},
	"DEFERRED":  {},
	"MERGED":    {},
}

// DataStore is the persistence surface the service needs; both the Postgres
// and in-memory stores satisfy it.
type DataStore interface {
	Ping(ctx context.Context) error
	EnsureUserByName(context.Context, string) (store.User, error)
	ListDocuments(context.Context) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) error
	UpdateDocumentState(context.Context, string, string, string, string, string) error
	CreateProposal(context.Context, store.Proposal) error
	GetProposal(context.Context, string) (store.Proposal, error)
	GetActiveProposal(context.Context, string) (*store.Proposal, error)
	UpdateProposalStatus(context.Context, string, string) error
	SeedApprovals(context.Context, string, []string) error
	ListApprovals(context.Context, string) ([]store.Approval, error)
	ApproveRole(context.Context, string, string, string) error
	PendingApprovalCount(context.Context, string) (int, error)
	InsertThread(context.Context, store.Thread) error
	GetThread(context.Context, string, string) (store.Thread, error)
	ListThreads(context.Context, string, bool) ([]store.Thread, error)
	OpenThreadCount(context.Context, string) (int, error)
	InsertReply(context.Context, store.Reply) error
	UpdateThreadVotes(context.Context, string, int, map[string]string) error
	UpdateThreadReactions(context.Context, string, map[string][]string) error
	ResolveThread(context.Context, string, string, string, string) (bool, error)
	ReopenThread(context.Context, string, string) (bool, error)
	UpdateThreadVisibility(context.Context, string, string, string) (bool, error)
	InsertDecisionLog(context.Context, store.DecisionLogEntry) error
	ListDecisionLogFiltered(context.Context, string, string, string, string, string, int) ([]store.DecisionLogEntry, error)
	InsertAuditEvent(context.Context, store.AuditEvent) error
	ListAuditEvents(context.Context, string, int) ([]store.AuditEvent, error)
	InsertNamedVersion(context.Context, string, string, string, string) error
	ListNamedVersions(context.Context, string) ([]store.NamedVersion, error)
	PromoteNamedVersions(context.Context, string) error
}

// GitService is the revision backend surface used by the service.
type GitService interface {
	EnsureDocumentRepo(string, revision.Content, string) error
	EnsureBranch(string, string, string) error
	CommitContent(string, string, revision.Content, string, string) (store.CommitInfo, error)
	GetHeadContent(string, string) (revision.Content, store.CommitInfo, error)
	History(string, string, int) ([]store.CommitInfo, error)
	GetContentByHash(string, string) (revision.Content, error)
	GetCommitByHash(string, string) (store.CommitInfo, error)
	CreateTag(string, string, string) error
	MergeIntoMain(string, string, string, string) (store.CommitInfo, error)
}

type Service struct {
	cfg   config.Config
	log   zerolog.Logger
	store DataStore
	git   GitService
	gate  *approval.Gate
	seen  session.SeenSet

	// Serializes read-modify-write mutations per document; the revision
	// service has its own lock, this one covers store plus git together.
	docMu    sync.Mutex
	docLocks map[string]*sync.Mutex
}

func New(cfg config.Config, log zerolog.Logger, dataStore DataStore, gitService GitService, seen session.SeenSet) *Service {
	return &Service{
		cfg:      cfg,
		log:      log,
		store:    dataStore,
		git:      gitService,
		gate:     approval.NewGate(approval.DefaultStages()),
		seen:     seen,
		docLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	lock, ok := s.docLocks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		s.docLocks[documentID] = lock
	}
	return lock
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap seeds a starter document so a fresh install has something to
// review.
func (s *Service) Bootstrap(ctx context.Context) error {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(documents) > 0 {
		return nil
	}

	owner, err := s.store.EnsureUserByName(ctx, "Avery")
	if err != nil {
		return err
	}

	seeds := []struct {
		ID       string
		Title    string
		Subtitle string
		Status   string
	}{
		{ID: "pol-retention", Title: "Data Retention Policy", Subtitle: "Retention windows and disposal duties for customer records.", Status: "In review"},
		{ID: "pol-vendor", Title: "Vendor Access Policy", Subtitle: "Rules for third-party access to production systems.", Status: "Draft"},
	}

	for _, seed := range seeds {
		if err := s.store.InsertDocument(ctx, store.Document{
			ID:        seed.ID,
			Title:     seed.Title,
			Subtitle:  seed.Subtitle,
			Status:    seed.Status,
			UpdatedBy: owner.DisplayName,
		}); err != nil {
			return err
		}
		content := revision.Content{
			Title:    seed.Title,
			Subtitle: seed.Subtitle,
			Purpose:  "Protect customer data and bound operational risk.",
			Tiers:    "Applies to Tier 1 and Tier 2 systems.",
			Enforce:  "Reviewed quarterly; violations escalate to the security team.",
			Doc:      seedDoc(seed.ID, seed.Title, seed.Subtitle),
		}
		if err := s.git.EnsureDocumentRepo(seed.ID, content, owner.DisplayName); err != nil {
			return err
		}
	}
	return nil
}

func seedDoc(documentID, title, subtitle string) json.RawMessage {
	doc := map[string]any{
		"type": "doc",
		"content": []map[string]any{
			{
				"type":    "heading",
				"attrs":   map[string]any{"nodeId": "n-" + documentID + "-title", "level": 1},
				"content": []map[string]any{{"type": "text", "text": title}},
			},
			{
				"type":    "paragraph",
				"attrs":   map[string]any{"nodeId": "n-" + documentID + "-subtitle"},
				"content": []map[string]any{{"type": "text", "text": subtitle}},
			},
		},
	}
	raw, _ := json.Marshal(doc)
	return raw
}

// Login is the development entry point: it resolves or creates the named
// user and issues an access token. Production deployments front this with
// the identity collaborator instead.
func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	displayName := strings.TrimSpace(name)
	if displayName == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	user, err := s.store.EnsureUserByName(ctx, displayName)
	if err != nil {
		return Session{}, err
	}
	identity := auth.Identity{Subject: user.ID, Name: user.DisplayName, IsExternal: user.IsExternal}
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), identity, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:      token,
		UserID:     user.ID,
		UserName:   user.DisplayName,
		IsExternal: user.IsExternal,
		ExpiresAt:  time.Now().Add(s.cfg.AccessTTL),
	}, nil
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	identity, err := auth.VerifyToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:      token,
		UserID:     identity.Subject,
		UserName:   identity.Name,
		IsExternal: identity.IsExternal,
	}, nil
}

func (s *Service) ListDocuments(ctx context.Context) (map[string]any, error) {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	openReviews := 0
	approved := 0
	for _, doc := range documents {
		openThreads := 0
		proposal, err := s.store.GetActiveProposal(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		if proposal != nil {
			openReviews++
			openThreads, err = s.store.OpenThreadCount(ctx, proposal.ID)
			if err != nil {
				return nil, err
			}
		}
		if doc.Status == "Approved" {
			approved++
		}
		items = append(items, map[string]any{
			"id":          doc.ID,
			"title":       doc.Title,
			"status":      doc.Status,
			"updatedBy":   doc.UpdatedBy,
			"openThreads": openThreads,
		})
	}
	return map[string]any{
		"documents": items,
		"summary": map[string]any{
			"documents":   len(documents),
			"openReviews": openReviews,
			"approved":    approved,
		},
	}, nil
}

func (s *Service) CreateDocument(ctx context.Context, title, subtitle string, viewer Viewer) (map[string]any, error) {
	documentTitle := strings.TrimSpace(title)
	if documentTitle == "" {
		documentTitle = "Untitled Document"
	}
	documentID := "doc-" + util.NewID("")[:10]
	if err := s.store.InsertDocument(ctx, store.Document{
		ID:        documentID,
		Title:     documentTitle,
		Subtitle:  strings.TrimSpace(subtitle),
		Status:    "Draft",
		UpdatedBy: viewer.Name,
	}); err != nil {
		return nil, err
	}
	content := revision.Content{
		Title:    documentTitle,
		Subtitle: strings.TrimSpace(subtitle),
		Doc:      seedDoc(documentID, documentTitle, strings.TrimSpace(subtitle)),
	}
	if err := s.git.EnsureDocumentRepo(documentID, content, viewer.Name); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "document.created", viewer.Name, documentID, "", "", map[string]any{"title": documentTitle})
	return s.GetWorkspace(ctx, documentID, viewer)
}

// EnsureWorkflowProposal returns the document's active proposal, creating a
// fresh DRAFT from the main head when none exists.
func (s *Service) EnsureWorkflowProposal(ctx context.Context, documentID, userName string) (*store.Proposal, error) {
	active, err := s.store.GetActiveProposal(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}

	proposal := store.Proposal{
		ID:           util.NewID("prop"),
		DocumentID:   documentID,
		Title:        "New proposal",
		Status:       string(lifecycle.StatusDraft),
		BranchName:   "proposal-" + util.NewID("")[:12],
		TargetBranch: revision.MainBranch,
		CreatedBy:    userName,
	}
	if err := s.store.CreateProposal(ctx, proposal); err != nil {
		return nil, err
	}
	if err := s.store.SeedApprovals(ctx, proposal.ID, s.gate.Roles()); err != nil {
		return nil, err
	}
	if err := s.git.EnsureBranch(documentID, proposal.BranchName, revision.MainBranch); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "proposal.created", userName, documentID, proposal.ID, "", nil)
	return &proposal, nil
}

// CreateProposal opens a named proposal. A document carries at most one
// active proposal, so this refuses while another is in flight.
func (s *Service) CreateProposal(ctx context.Context, documentID, title string, viewer Viewer) (map[string]any, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	active, err := s.store.GetActiveProposal(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, domainError(http.StatusConflict, "PROPOSAL_ACTIVE", "Document already has an active proposal", map[string]any{
			"proposalId": active.ID,
		})
	}

	proposalTitle := strings.TrimSpace(title)
	if proposalTitle == "" {
		proposalTitle = "New proposal"
	}
	proposal := store.Proposal{
		ID:           util.NewID("prop"),
		DocumentID:   documentID,
		Title:        proposalTitle,
		Status:       string(lifecycle.StatusDraft),
		BranchName:   "proposal-" + util.NewID("")[:12],
		TargetBranch: revision.MainBranch,
		CreatedBy:    viewer.Name,
	}
	if err := s.store.CreateProposal(ctx, proposal); err != nil {
		return nil, err
	}
	if err := s.store.SeedApprovals(ctx, proposal.ID, s.gate.Roles()); err != nil {
		return nil, err
	}
	if err := s.git.EnsureBranch(documentID, proposal.BranchName, revision.MainBranch); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "proposal.created", viewer.Name, documentID, proposal.ID, "", map[string]any{"title": proposalTitle})
	return s.GetWorkspace(ctx, documentID, viewer)
}

// SaveWorkspace appends the submitted content as a commit on the active
// proposal branch. Legacy fields are re-derived from the node tree so the
// flat projection never drifts from the structured content.
func (s *Service) SaveWorkspace(ctx context.Context, documentID string, content WorkspaceContent, viewer Viewer) (map[string]any, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	proposal, err := s.EnsureWorkflowProposal(ctx, documentID, viewer.Name)
	if err != nil {
		return nil, err
	}
	if lifecycle.Terminal(lifecycle.Status(proposal.Status)) {
		return nil, domainError(http.StatusConflict, "PROPOSAL_NOT_UNDER_REVIEW", "Proposal is closed", nil)
	}

	current, _, err := s.git.GetHeadContent(documentID, proposal.BranchName)
	if err != nil {
		return nil, err
	}

	nextDoc := current.Doc
	if len(content.Doc) > 0 {
		normalized, err := normalizeDocJSON(content.Doc)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "doc must be a valid node tree", nil)
		}
		nextDoc = normalized
	}
	derived := diff.DeriveLegacyFields(nextDoc, current.Legacy())
	next := revision.Content{
		Title:    firstNonBlank(content.Title, derived.Title, current.Title),
		Subtitle: firstNonBlank(content.Subtitle, derived.Subtitle, current.Subtitle),
		Purpose:  firstNonBlank(content.Purpose, derived.Purpose, current.Purpose),
		Tiers:    firstNonBlank(content.Tiers, derived.Tiers, current.Tiers),
		Enforce:  firstNonBlank(content.Enforce, derived.Enforce, current.Enforce),
		Doc:      nextDoc,
	}

	if revision.HasChanges(current, next) {
		commit, err := s.git.CommitContent(documentID, proposal.BranchName, next, viewer.Name, "Update proposal content")
		if err != nil {
			return nil, err
		}
		if err := s.store.UpdateDocumentState(ctx, documentID, next.Title, next.Subtitle, "In review", viewer.Name); err != nil {
			return nil, err
		}
		s.recordAudit(ctx, "content.committed", viewer.Name, documentID, proposal.ID, "", map[string]any{
			"commit":  commit.Hash,
			"added":   commit.Added,
			"removed": commit.Removed,
		})
	}

	return s.GetWorkspace(ctx, documentID, viewer)
}

func (s *Service) SubmitProposal(ctx context.Context, documentID, proposalID string, viewer Viewer) (map[string]any, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	proposal, err := s.proposalFor(ctx, documentID, proposalID)
	if err != nil {
		return nil, err
	}
	next, err := lifecycle.Transition(lifecycle.Status(proposal.Status), lifecycle.StatusUnderReview)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateProposalStatus(ctx, proposalID, string(next)); err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateDocumentState(ctx, documentID, doc.Title, doc.Subtitle, "In review", doc.UpdatedBy); err != nil {
		return nil, err
	}
	_, head, err := s.git.GetHeadContent(documentID, proposal.BranchName)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertDecisionLog(ctx, store.DecisionLogEntry{
		DocumentID: documentID,
		ProposalID: proposalID,
		Outcome:    "SUBMITTED",
		Rationale:  "Proposal submitted for review.",
		DecidedBy:  viewer.Name,
		CommitHash: head.Hash,
	}); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "proposal.submitted", viewer.Name, documentID, proposalID, "", nil)
	return s.GetWorkspace(ctx, documentID, viewer)
}

// RejectProposal closes a proposal without merging. The rationale is
// mandatory because the rejection lands in the Decision Ledger.
func (s *Service) RejectProposal(ctx context.Context, documentID, proposalID, rationale string, viewer Viewer) (map[string]any, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	proposal, err := s.proposalFor(ctx, documentID, proposalID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rationale) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rationale is required to reject a proposal", nil)
	}
	next, err := lifecycle.Transition(lifecycle.Status(proposal.Status), lifecycle.StatusRejected)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateProposalStatus(ctx, proposalID, string(next)); err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateDocumentState(ctx, documentID, doc.Title, doc.Subtitle, "Draft", viewer.Name); err != nil {
		return nil, err
	}
	_, head, err := s.git.GetHeadContent(documentID, proposal.BranchName)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertDecisionLog(ctx, store.DecisionLogEntry{
		DocumentID: documentID,
		ProposalID: proposalID,
		Outcome:    "REJECTED",
		Rationale:  strings.TrimSpace(rationale),
		DecidedBy:  viewer.Name,
		CommitHash: head.Hash,
	}); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "proposal.rejected", viewer.Name, documentID, proposalID, "", map[string]any{"rationale": strings.TrimSpace(rationale)})
	return s.GetWorkspace(ctx, documentID, viewer)
}

func (s *Service) ApproveProposalRole(ctx context.Context, documentID, proposalID, role string, viewer Viewer) (map[string]any, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	role = strings.TrimSpace(role)
	if !s.gate.KnownRole(role) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be one of "+strings.Join(s.gate.Roles(), ", "), nil)
	}
	proposal, err := s.proposalFor(ctx, documentID, proposalID)
	if err != nil {
		return nil, err
	}
	if lifecycle.Status(proposal.Status) != lifecycle.StatusUnderReview {
		return nil, domainError(http.StatusConflict, "PROPOSAL_NOT_UNDER_REVIEW", "Proposal must be under review to approve", map[string]any{
			"status": proposal.Status,
		})
	}

	approvals, err := s.store.ListApprovals(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	statusByRole := make(map[string]string, len(approvals))
	for _, item := range approvals {
		statusByRole[item.Role] = item.Status
	}
	if blockers := s.gate.Blocked(statusByRole, role); len(blockers) > 0 {
		return nil, domainError(http.StatusConflict, "APPROVAL_ORDER_BLOCKED", "Approval order is blocked by unmet prerequisites", map[string]any{
			"role":     role,
			"blockers": blockers,
		})
	}

	alreadyApproved := statusByRole[role] == approval.StatusApproved
	if err := s.store.ApproveRole(ctx, proposalID, role, viewer.Name); err != nil {
		return nil, err
	}
	if !alreadyApproved {
		_, head, err := s.git.GetHeadContent(documentID, proposal.BranchName)
		if err != nil {
			return nil, err
		}
		if err := s.store.InsertDecisionLog(ctx, store.DecisionLogEntry{
			DocumentID: documentID,
			ProposalID: proposalID,
			Outcome:    "APPROVED",
			Rationale:  roleLabel(role) + " approval granted.",
			DecidedBy:  viewer.Name,
			CommitHash: head.Hash,
		}); err != nil {
			return nil, err
		}
		s.recordAudit(ctx, "approval.granted", viewer.Name, documentID, proposalID, "", map[string]any{"role": role})
	}
	return s.GetWorkspace(ctx, documentID, viewer)
}

// computeMergeGate re-reads approvals and threads; the gate is never cached.
func (s *Service) computeMergeGate(ctx context.Context, proposalID string) (pendingApprovals, openThreads int, err error) {
	pendingApprovals, err = s.store.PendingApprovalCount(ctx, proposalID)
	if err != nil {
		return 0, 0, err
	}
	openThreads, err = s.store.OpenThreadCount(ctx, proposalID)
	if err != nil {
		return 0, 0, err
	}
	return pendingApprovals, openThreads, nil
}

func (s *Service) MergeProposal(ctx context.Context, documentID, proposalID string, viewer Viewer) (map[string]any, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	proposal, err := s.proposalFor(ctx, documentID, proposalID)
	if err != nil {
		return nil, err
	}
	if lifecycle.Status(proposal.Status) != lifecycle.StatusUnderReview {
		return nil, domainError(http.StatusConflict, "PROPOSAL_NOT_UNDER_REVIEW", "Proposal must be under review to merge", map[string]any{
			"status": proposal.Status,
		})
	}
	pendingApprovals, openThreads, err := s.computeMergeGate(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if pendingApprovals > 0 || openThreads > 0 {
		return nil, domainError(http.StatusConflict, "MERGE_GATE_BLOCKED", "Merge gate is not clear", map[string]any{
			"pendingApprovals": pendingApprovals,
			"openThreads":      openThreads,
		})
	}

	mergeCommit, err := s.git.MergeIntoMain(documentID, proposal.BranchName, viewer.Name, "Merge proposal "+proposalID)
	if err != nil {
		return nil, err
	}
	if _, err := lifecycle.Transition(lifecycle.StatusUnderReview, lifecycle.StatusMerged); err != nil {
		return nil, err
	}
	if err := s.store.UpdateProposalStatus(ctx, proposalID, string(lifecycle.StatusMerged)); err != nil {
		return nil, err
	}
	if err := s.store.PromoteNamedVersions(ctx, proposalID); err != nil {
		return nil, err
	}

	mainContent, _, err := s.git.GetHeadContent(documentID, revision.MainBranch)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateDocumentState(ctx, documentID, mainContent.Title, mainContent.Subtitle, "Approved", viewer.Name); err != nil {
		return nil, err
	}
	if err := s.store.InsertDecisionLog(ctx, store.DecisionLogEntry{
		DocumentID: documentID,
		ProposalID: proposalID,
		Outcome:    "MERGED",
		Rationale:  "Proposal merged after merge gate passed.",
		DecidedBy:  viewer.Name,
		CommitHash: mergeCommit.Hash,
	}); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "proposal.merged", viewer.Name, documentID, proposalID, "", map[string]any{"commit": mergeCommit.Hash})
	return s.GetWorkspace(ctx, documentID, viewer)
}

func (s *Service) CreateThread(ctx context.Context, documentID, proposalID string, viewer Viewer, input CreateThreadInput) (map[string]any, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.proposalFor(ctx, documentID, proposalID); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
	}
	visibility := deliberation.NormalizeVisibility(input.Visibility)
	if viewer.IsExternal && visibility != deliberation.VisibilityExternal {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "external users can only create EXTERNAL threads", nil)
	}

	threadID := util.NewID("thr")
	if err := s.store.InsertThread(ctx, store.Thread{
		ID:            threadID,
		ProposalID:    proposalID,
		AnchorNodeID:  strings.TrimSpace(input.AnchorNodeID),
		AnchorOffsets: normalizeAnchorOffsetsJSON(input.AnchorOffsets),
		AnchorQuote:   strings.TrimSpace(input.Quote),
		Body:          text,
		Status:        deliberation.StatusOpen,
		Type:          deliberation.NormalizeType(input.Type),
		Visibility:    visibility,
		Author:        viewer.Name,
	}); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "thread.created", viewer.Name, documentID, proposalID, threadID, map[string]any{
		"anchorNodeId": strings.TrimSpace(input.AnchorNodeID),
	})
	return s.GetWorkspace(ctx, documentID, viewer)
}

func (s *Service) ReplyThread(ctx context.Context, documentID, proposalID, threadID string, viewer Viewer, input ThreadReplyInput) (map[string]any, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	thread, err := s.visibleThread(ctx, documentID, proposalID, threadID, viewer)
	if err != nil {
		return nil, err
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	if err := s.store.InsertReply(ctx, store.Reply{
		ID:       util.NewID("rep"),
		ThreadID: thread.ID,
		Author:   viewer.Name,
		Body:     body,
	}); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "thread.replied", viewer.Name, documentID, proposalID, threadID, nil)
	return s.GetWorkspace(ctx, documentID, viewer)
}

func (s *Service) VoteThread(ctx context.Context, documentID, proposalID, threadID string, viewer Viewer, input VoteThreadInput) (map[string]any, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	thread, err := s.visibleThread(ctx, documentID, proposalID, threadID, viewer)
	if err != nil {
		return nil, err
	}
	direction := strings.ToLower(strings.TrimSpace(input.Direction))
	delta, _, err := deliberation.ApplyVote(thread.VotesByUser, viewer.Name, direction)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "direction must be 'up' or 'down'", nil)
	}
	if err := s.store.UpdateThreadVotes(ctx, thread.ID, thread.VoteCount+delta, thread.VotesByUser); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "thread.voted", viewer.Name, documentID, proposalID, threadID, map[string]any{"direction": direction})
	return s.GetWorkspace(ctx, documentID, viewer)
}

func (s *Service) ReactThread(ctx context.Context, documentID, proposalID, threadID string, viewer Viewer, input ReactThreadInput) (map[string]any, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	thread, err := s.visibleThread(ctx, documentID, proposalID, threadID, viewer)
	if err != nil {
		return nil, err
	}
	emoji := strings.TrimSpace(input.Emoji)
	if emoji == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "emoji is required", nil)
	}
	if len([]rune(emoji)) > 8 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "emoji is too long", nil)
	}
	reacting := deliberation.ToggleReaction(thread.ReactionsByEmoji, emoji, viewer.Name)
	if err := s.store.UpdateThreadReactions(ctx, thread.ID, thread.ReactionsByEmoji); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "thread.reacted", viewer.Name, documentID, proposalID, threadID, map[string]any{
		"emoji":    emoji,
		"reacting": reacting,
	})
	return s.GetWorkspace(ctx, documentID, viewer)
}

func (s *Service) ResolveThread(ctx context.Context, documentID, proposalID, threadID string, viewer Viewer, input ResolveThreadInput) (map[string]any, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	proposal, err := s.proposalFor(ctx, documentID, proposalID)
	if err != nil {
		return nil, err
	}
	thread, err := s.store.GetThread(ctx, proposalID, threadID)
	if err != nil {
		return nil, err
	}

	outcome, err := deliberation.NormalizeOutcome(input.Outcome, input.Rationale)
	if errors.Is(err, deliberation.ErrRationaleRequired) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rationale is required for REJECTED outcome", nil)
	}
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid resolution outcome", nil)
	}

	// Resolving a resolved thread is an acknowledged no-op.
	if thread.Status == deliberation.StatusResolved {
		return s.GetWorkspace(ctx, documentID, viewer)
	}

	rationale := strings.TrimSpace(input.Rationale)
	if rationale == "" {
		rationale = "Thread resolved in proposal flow."
	}
	note := fmt.Sprintf("Resolved by %s · %s", viewer.Name, time.Now().Format(time.RFC3339))
	changed, err := s.store.ResolveThread(ctx, proposalID, threadID, outcome, note)
	if err != nil {
		return nil, err
	}
	if !changed {
		return s.GetWorkspace(ctx, documentID, viewer)
	}

	repliers := make([]string, 0, len(thread.Replies)+1)
	for _, reply := range thread.Replies {
		repliers = append(repliers, reply.Author)
	}
	repliers = append(repliers, viewer.Name)

	_, head, err := s.git.GetHeadContent(documentID, proposal.BranchName)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertDecisionLog(ctx, store.DecisionLogEntry{
		DocumentID:   documentID,
		ProposalID:   proposalID,
		ThreadID:     threadID,
		Outcome:      outcome,
		Rationale:    rationale,
		DecidedBy:    viewer.Name,
		CommitHash:   head.Hash,
		Participants: deliberation.Participants(thread.Author, repliers),
	}); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "thread.resolved", viewer.Name, documentID, proposalID, threadID, map[string]any{"outcome": outcome})
	return s.GetWorkspace(ctx, documentID, viewer)
}

func (s *Service) ReopenThread(ctx context.Context, documentID, proposalID, threadID string, viewer Viewer) (map[string]any, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.proposalFor(ctx, documentID, proposalID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetThread(ctx, proposalID, threadID); err != nil {
		return nil, err
	}
	changed, err := s.store.ReopenThread(ctx, proposalID, threadID)
	if err != nil {
		return nil, err
	}
	// Reopening from OPEN or ORPHANED is a no-op.
	if changed {
		s.recordAudit(ctx, "thread.reopened", viewer.Name, documentID, proposalID, threadID, nil)
	}
	return s.GetWorkspace(ctx, documentID, viewer)
}

func (s *Service) SetThreadVisibility(ctx context.Context, documentID, proposalID, threadID string, viewer Viewer, input UpdateThreadVisibilityInput) (map[string]any, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.proposalFor(ctx, documentID, proposalID); err != nil {
		return nil, err
	}
	if !deliberation.ValidVisibility(input.Visibility) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid thread visibility", nil)
	}
	visibility := strings.ToUpper(strings.TrimSpace(input.Visibility))
	changed, err := s.store.UpdateThreadVisibility(ctx, proposalID, threadID, visibility)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("thread %s: %w", threadID, store.ErrNotFound)
	}
	s.recordAudit(ctx, "thread.visibility_changed", viewer.Name, documentID, proposalID, threadID, map[string]any{"visibility": visibility})
	return s.GetWorkspace(ctx, documentID, viewer)
}

func (s *Service) DecisionLog(ctx context.Context, documentID string, filters DecisionLogFilterInput) (map[string]any, error) {
	outcome := strings.ToUpper(strings.TrimSpace(filters.Outcome))
	if outcome != "" {
		if _, ok := allowedLedgerOutcomes[outcome]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid decision outcome filter", nil)
		}
	}
	entries, err := s.store.ListDecisionLogFiltered(
		ctx,
		documentID,
		strings.TrimSpace(filters.ProposalID),
		outcome,
		strings.TrimSpace(filters.Author),
		strings.TrimSpace(filters.Query),
		filters.Limit,
	)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, row := range entries {
		items = append(items, map[string]any{
			"id":           row.ID,
			"threadId":     nilIfEmpty(row.ThreadID),
			"proposalId":   nilIfEmpty(row.ProposalID),
			"outcome":      row.Outcome,
			"rationale":    row.Rationale,
			"decidedBy":    row.DecidedBy,
			"decidedAt":    row.DecidedAt.Format(time.RFC3339),
			"commitHash":   row.CommitHash,
			"participants": row.Participants,
		})
	}
	return map[string]any{
		"documentId": documentID,
		"items":      items,
	}, nil
}

func (s *Service) AuditTrail(ctx context.Context, documentID string, limit int) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	events, err := s.store.ListAuditEvents(ctx, documentID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(events))
	for _, event := range events {
		items = append(items, map[string]any{
			"id":         event.ID,
			"eventType":  event.EventType,
			"actor":      event.ActorName,
			"proposalId": nilIfEmpty(event.ProposalID),
			"threadId":   nilIfEmpty(event.ThreadID),
			"payload":    event.Payload,
			"createdAt":  event.CreatedAt.Format(time.RFC3339),
		})
	}
	return map[string]any{
		"documentId": documentID,
		"items":      items,
	}, nil
}

func (s *Service) SaveNamedVersion(ctx context.Context, documentID, proposalID, name string, viewer Viewer) (map[string]any, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	proposal, err := s.proposalFor(ctx, documentID, proposalID)
	if err != nil {
		return nil, err
	}
	label := strings.TrimSpace(name)
	if label == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	_, commit, err := s.git.GetHeadContent(documentID, proposal.BranchName)
	if err != nil {
		return nil, err
	}
	tagName := buildNamedVersionTagName(label, commit.Hash)
	if err := s.git.CreateTag(documentID, commit.Hash, tagName); err != nil {
		return nil, err
	}
	if err := s.store.InsertNamedVersion(ctx, proposalID, label, commit.Hash, viewer.Name); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "version.saved", viewer.Name, documentID, proposalID, "", map[string]any{
		"name":   label,
		"commit": commit.Hash,
	})
	return s.GetWorkspace(ctx, documentID, viewer)
}

func (s *Service) History(ctx context.Context, documentID, proposalID string) (map[string]any, error) {
	branch := revision.MainBranch
	actualProposalID := ""
	switch {
	case proposalID == revision.MainBranch:
		// Canonical history requested explicitly.
	case proposalID != "":
		proposal, err := s.proposalFor(ctx, documentID, proposalID)
		if err != nil {
			return nil, err
		}
		branch = proposal.BranchName
		actualProposalID = proposal.ID
	default:
		active, err := s.store.GetActiveProposal(ctx, documentID)
		if err != nil {
			return nil, err
		}
		if active != nil {
			branch = active.BranchName
			actualProposalID = active.ID
		}
	}

	commits, err := s.git.History(documentID, branch, 50)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListNamedVersions(ctx, actualProposalID)
	if err != nil {
		return nil, err
	}

	commitItems := make([]map[string]any, 0, len(commits))
	for _, item := range commits {
		commitItems = append(commitItems, map[string]any{
			"hash":    item.Hash,
			"message": item.Message,
			"meta":    fmt.Sprintf("%s · %s · +%d -%d words", item.Author, relative(item.CreatedAt), item.Added, item.Removed),
			"branch":  branch,
		})
	}
	versionItems := make([]map[string]any, 0, len(versions))
	for _, version := range versions {
		versionItems = append(versionItems, map[string]any{
			"name":      version.Name,
			"hash":      version.Hash,
			"createdBy": version.CreatedBy,
			"createdAt": version.CreatedAt.Format(time.RFC3339),
		})
	}

	return map[string]any{
		"documentId":    documentID,
		"proposalId":    nilIfEmpty(actualProposalID),
		"branch":        branch,
		"commits":       commitItems,
		"namedVersions": versionItems,
	}, nil
}

// Compare returns the node-anchored change set between two commits plus the
// legacy flat-field diff for older consumers.
func (s *Service) Compare(ctx context.Context, documentID, fromHash, toHash string) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	from, err := s.git.GetContentByHash(documentID, fromHash)
	if err != nil {
		return nil, err
	}
	to, err := s.git.GetContentByHash(documentID, toHash)
	if err != nil {
		return nil, err
	}

	changeSet := diff.Compute(from.Doc, to.Doc)
	changedFields := diff.ChangedLegacyFields(from.Legacy(), to.Legacy())
	if changedFields == nil {
		changedFields = []string{}
	}
	return map[string]any{
		"from":          fromHash,
		"to":            toHash,
		"changes":       changeSet.Changes,
		"changedFields": changedFields,
		"fromContent":   contentPayload(from),
		"toContent":     contentPayload(to),
	}, nil
}

// HandleSyncSessionEnded applies a content snapshot delivered by the
// real-time transport. A session id is applied at most once; duplicates and
// no-change deliveries acknowledge success without committing.
func (s *Service) HandleSyncSessionEnded(
	ctx context.Context,
	sessionID string,
	documentID string,
	proposalID string,
	actor string,
	updateCount int,
	snapshot *WorkspaceContent,
) (map[string]any, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "sessionId is required", nil)
	}

	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	seen, err := s.seen.Seen(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if seen {
		return syncAck(sessionID, documentID, proposalID, "", updateCount, true), nil
	}

	userName := firstNonBlank(actor, "Sync Gateway")
	var proposal *store.Proposal
	if proposalID != "" {
		item, err := s.proposalFor(ctx, documentID, proposalID)
		if err != nil {
			return nil, err
		}
		proposal = &item
	} else {
		proposal, err = s.EnsureWorkflowProposal(ctx, documentID, userName)
		if err != nil {
			return nil, err
		}
	}

	if snapshot == nil {
		if _, err := s.seen.MarkOnce(ctx, sessionID); err != nil {
			return nil, err
		}
		return syncAck(sessionID, documentID, proposal.ID, "", updateCount, true), nil
	}

	current, _, err := s.git.GetHeadContent(documentID, proposal.BranchName)
	if err != nil {
		return nil, err
	}
	next := revision.Content{
		Title:    firstNonBlank(snapshot.Title, current.Title),
		Subtitle: firstNonBlank(snapshot.Subtitle, current.Subtitle),
		Purpose:  firstNonBlank(snapshot.Purpose, current.Purpose),
		Tiers:    firstNonBlank(snapshot.Tiers, current.Tiers),
		Enforce:  firstNonBlank(snapshot.Enforce, current.Enforce),
		Doc:      current.Doc,
	}
	if len(snapshot.Doc) > 0 {
		normalized, err := normalizeDocJSON(snapshot.Doc)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "doc must be a valid node tree", nil)
		}
		next.Doc = normalized
		derived := diff.DeriveLegacyFields(next.Doc, next.Legacy())
		next.SetLegacy(derived)
	}

	if !revision.HasChanges(current, next) {
		if _, err := s.seen.MarkOnce(ctx, sessionID); err != nil {
			return nil, err
		}
		return syncAck(sessionID, documentID, proposal.ID, "", updateCount, true), nil
	}

	commit, err := s.git.CommitContent(documentID, proposal.BranchName, next, userName, fmt.Sprintf("Sync session flush (%d updates)", max(updateCount, 1)))
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateDocumentState(ctx, documentID, next.Title, next.Subtitle, "In review", userName); err != nil {
		return nil, err
	}
	if _, err := s.seen.MarkOnce(ctx, sessionID); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "sync.flush_applied", userName, documentID, proposal.ID, "", map[string]any{
		"sessionId":   sessionID,
		"commit":      commit.Hash,
		"updateCount": updateCount,
	})

	payload := syncAck(sessionID, documentID, proposal.ID, commit.Hash, updateCount, false)
	payload["changedFields"] = diff.ChangedLegacyFields(current.Legacy(), next.Legacy())
	return payload, nil
}

func syncAck(sessionID, documentID, proposalID, commitHash string, updateCount int, ignored bool) map[string]any {
	return map[string]any{
		"ok":          true,
		"ignored":     ignored,
		"sessionId":   sessionID,
		"documentId":  documentID,
		"proposalId":  nilIfEmpty(proposalID),
		"flushCommit": nilIfEmpty(commitHash),
		"updateCount": updateCount,
	}
}

// GetWorkspace is the projection every mutation returns: document metadata,
// current content, threads, approvals, history, decisions, and the merge
// gate, shaped for the caller's visibility.
func (s *Service) GetWorkspace(ctx context.Context, documentID string, viewer Viewer) (map[string]any, error) {
	document, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	proposal, err := s.store.GetActiveProposal(ctx, documentID)
	if err != nil {
		return nil, err
	}

	branch := revision.MainBranch
	proposalID := ""
	proposalStatus := ""
	approvalsMap := map[string]string{}
	for _, role := range s.gate.Roles() {
		approvalsMap[role] = approval.StatusApproved
	}
	threads := make([]map[string]any, 0)
	decisions := make([]map[string]any, 0)
	pendingApprovals := 0
	openThreads := 0

	if proposal != nil {
		branch = proposal.BranchName
		proposalID = proposal.ID
		proposalStatus = proposal.Status

		approvals, err := s.store.ListApprovals(ctx, proposal.ID)
		if err != nil {
			return nil, err
		}
		for _, item := range approvals {
			approvalsMap[item.Role] = item.Status
		}

		threadRows, err := s.store.ListThreads(ctx, proposal.ID, !viewer.IsExternal)
		if err != nil {
			return nil, err
		}
		for _, thread := range threadRows {
			if thread.Status == deliberation.StatusOpen {
				openThreads++
			}
			threads = append(threads, threadPayload(thread, viewer))
		}

		decisionRows, err := s.store.ListDecisionLogFiltered(ctx, documentID, proposal.ID, "", "", "", 50)
		if err != nil {
			return nil, err
		}
		for _, row := range decisionRows {
			decisions = append(decisions, map[string]any{
				"date":         row.DecidedAt.Format("2006-01-02") + " · " + row.CommitHash,
				"outcome":      row.Outcome,
				"text":         row.Rationale,
				"by":           row.DecidedBy,
				"participants": row.Participants,
			})
		}

		pendingApprovals, err = s.store.PendingApprovalCount(ctx, proposal.ID)
		if err != nil {
			return nil, err
		}
	}

	content, headCommit, err := s.git.GetHeadContent(documentID, branch)
	if err != nil {
		return nil, err
	}
	commits, err := s.git.History(documentID, branch, 25)
	if err != nil {
		return nil, err
	}
	history := make([]map[string]string, 0, len(commits))
	for _, commit := range commits {
		history = append(history, map[string]string{
			"hash":    commit.Hash,
			"message": commit.Message,
			"meta":    fmt.Sprintf("%s · %s · +%d -%d words", commit.Author, relative(commit.CreatedAt), commit.Added, commit.Removed),
		})
	}

	return map[string]any{
		"document": map[string]any{
			"id":             document.ID,
			"title":          content.Title,
			"subtitle":       content.Subtitle,
			"status":         document.Status,
			"editedBy":       headCommit.Author,
			"editedAt":       relative(headCommit.CreatedAt),
			"branch":         branch,
			"proposalId":     nilIfEmpty(proposalID),
			"proposalStatus": nilIfEmpty(proposalStatus),
		},
		"content":   contentPayload(content),
		"doc":       content.Doc,
		"approvals": approvalsMap,
		"threads":   threads,
		"history":   history,
		"decisions": decisions,
		"mergeGate": map[string]any{
			"pendingApprovals": pendingApprovals,
			"openThreads":      openThreads,
			"mergeReady":       pendingApprovals == 0 && openThreads == 0,
		},
	}, nil
}

func threadPayload(thread store.Thread, viewer Viewer) map[string]any {
	replies := make([]map[string]any, 0, len(thread.Replies))
	for _, reply := range thread.Replies {
		replies = append(replies, map[string]any{
			"initials": initials(reply.Author),
			"author":   reply.Author,
			"time":     relative(reply.CreatedAt),
			"text":     reply.Body,
		})
	}
	reactions := make([]map[string]any, 0, len(thread.ReactionsByEmoji))
	for emoji, reactors := range thread.ReactionsByEmoji {
		reacted := false
		for _, reactor := range reactors {
			if reactor == viewer.Name {
				reacted = true
				break
			}
		}
		reactions = append(reactions, map[string]any{
			"emoji":   emoji,
			"count":   len(reactors),
			"reacted": reacted,
		})
	}

	anchorOffsets := map[string]any{}
	if len(thread.AnchorOffsets) > 0 {
		_ = json.Unmarshal(thread.AnchorOffsets, &anchorOffsets)
	}
	return map[string]any{
		"id":            thread.ID,
		"initials":      initials(thread.Author),
		"author":        thread.Author,
		"time":          relative(thread.CreatedAt),
		"anchorNodeId":  thread.AnchorNodeID,
		"anchorOffsets": anchorOffsets,
		"quote":         nilIfEmpty(thread.AnchorQuote),
		"text":          thread.Body,
		"votes":         thread.VoteCount,
		"voted":         thread.VotesByUser[viewer.Name] != "",
		"reactions":     reactions,
		"status":        thread.Status,
		"type":          thread.Type,
		"visibility":    thread.Visibility,
		"outcome":       nilIfEmpty(thread.Outcome),
		"resolvedNote":  nilIfEmpty(thread.ResolutionNote),
		"replies":       replies,
	}
}

func contentPayload(content revision.Content) map[string]string {
	return map[string]string{
		"title":    content.Title,
		"subtitle": content.Subtitle,
		"purpose":  content.Purpose,
		"tiers":    content.Tiers,
		"enforce":  content.Enforce,
	}
}

// proposalFor loads a proposal and confirms it belongs to the document.
func (s *Service) proposalFor(ctx context.Context, documentID, proposalID string) (store.Proposal, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	if proposal.DocumentID != documentID {
		return store.Proposal{}, fmt.Errorf("proposal %s: %w", proposalID, store.ErrNotFound)
	}
	return proposal, nil
}

func (s *Service) visibleThread(ctx context.Context, documentID, proposalID, threadID string, viewer Viewer) (store.Thread, error) {
	if _, err := s.proposalFor(ctx, documentID, proposalID); err != nil {
		return store.Thread{}, err
	}
	thread, err := s.store.GetThread(ctx, proposalID, threadID)
	if err != nil {
		return store.Thread{}, err
	}
	if viewer.IsExternal && thread.Visibility != deliberation.VisibilityExternal {
		return store.Thread{}, domainError(http.StatusForbidden, "FORBIDDEN", "external users cannot act on internal threads", nil)
	}
	return thread, nil
}

// recordAudit never fails the caller; a lost audit row is logged, not fatal.
func (s *Service) recordAudit(ctx context.Context, eventType, actor, documentID, proposalID, threadID string, payload map[string]any) {
	err := s.store.InsertAuditEvent(ctx, store.AuditEvent{
		EventType:  eventType,
		ActorName:  actor,
		DocumentID: documentID,
		ProposalID: proposalID,
		ThreadID:   threadID,
		Payload:    payload,
	})
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Str("document", documentID).Msg("audit write failed")
	}
}

func buildNamedVersionTagName(label, commitHash string) string {
	const maxLabelLen = 48
	slug := make([]rune, 0, len(label))
	lastDash := false
	for _, raw := range strings.ToLower(strings.TrimSpace(label)) {
		ch := raw
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			slug = append(slug, ch)
			lastDash = false
			continue
		}
		if !lastDash {
			slug = append(slug, '-')
			lastDash = true
		}
	}
	slugText := strings.Trim(string(slug), "-")
	if slugText == "" {
		slugText = "version"
	}
	if len(slugText) > maxLabelLen {
		slugText = strings.TrimRight(slugText[:maxLabelLen], "-")
	}
	if slugText == "" {
		slugText = "version"
	}

	hashPart := make([]rune, 0, len(commitHash))
	for _, ch := range strings.ToLower(commitHash) {
		if (ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9') {
			hashPart = append(hashPart, ch)
		}
	}
	hashText := string(hashPart)
	if hashText == "" {
		hashText = "head"
	}
	if len(hashText) > 12 {
		hashText = hashText[:12]
	}
	return "nv-" + slugText + "-" + hashText
}

func roleLabel(role string) string {
	switch strings.TrimSpace(role) {
	case "architectureCommittee":
		return "Architecture Committee"
	case "security":
		return "Security"
	case "legal":
		return "Legal"
	default:
		return strings.TrimSpace(role)
	}
}

func normalizeDocJSON(doc json.RawMessage) (json.RawMessage, error) {
	var parsed struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, err
	}
	if parsed.Type != "doc" {
		return nil, fmt.Errorf("root node must be of type doc")
	}
	var generic any
	if err := json.Unmarshal(doc, &generic); err != nil {
		return nil, err
	}
	normalized, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	return normalized, nil
}

func normalizeAnchorOffsetsJSON(offsets json.RawMessage) json.RawMessage {
	if len(offsets) == 0 {
		return json.RawMessage(`{}`)
	}
	var parsed map[string]any
	if err := json.Unmarshal(offsets, &parsed); err != nil {
		return json.RawMessage(`{}`)
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return normalized
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func relative(value time.Time) string {
	minutes := int(time.Since(value).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm ago", minutes)
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}
	days := hours / 24
	return fmt.Sprintf("%dd ago", days)
}

func initials(name string) string {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "NA"
	}
	if len(parts) == 1 {
		r := []rune(parts[0])
		if len(r) == 1 {
			return strings.ToUpper(string(r[0]))
		}
		return strings.ToUpper(string(r[0]) + string(r[1]))
	}
	return strings.ToUpper(string([]rune(parts[0])[0]) + string([]rune(parts[len(parts)-1])[0]))
}

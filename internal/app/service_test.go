package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"quorum/api/internal/config"
	"quorum/api/internal/revision"
	"quorum/api/internal/session"
	"quorum/api/internal/store"

	"github.com/rs/zerolog"
)

type fakeStore struct {
	getDocumentFn             func(context.Context, string) (store.Document, error)
	getProposalFn             func(context.Context, string) (store.Proposal, error)
	getActiveProposalFn       func(context.Context, string) (*store.Proposal, error)
	createProposalFn          func(context.Context, store.Proposal) error
	updateProposalStatusFn    func(context.Context, string, string) error
	listApprovalsFn           func(context.Context, string) ([]store.Approval, error)
	approveRoleFn             func(context.Context, string, string, string) error
	pendingApprovalCountFn    func(context.Context, string) (int, error)
	openThreadCountFn         func(context.Context, string) (int, error)
	getThreadFn               func(context.Context, string, string) (store.Thread, error)
	listThreadsFn             func(context.Context, string, bool) ([]store.Thread, error)
	updateThreadVotesFn       func(context.Context, string, int, map[string]string) error
	updateThreadReactionsFn   func(context.Context, string, map[string][]string) error
	resolveThreadFn           func(context.Context, string, string, string, string) (bool, error)
	reopenThreadFn            func(context.Context, string, string) (bool, error)
	insertDecisionLogFn       func(context.Context, store.DecisionLogEntry) error
	listDecisionLogFilteredFn func(context.Context, string, string, string, string, string, int) ([]store.DecisionLogEntry, error)
	insertNamedVersionFn      func(context.Context, string, string, string, string) error
	promoteNamedVersionsFn    func(context.Context, string) error
	insertAuditEventFn        func(context.Context, store.AuditEvent) error
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) EnsureUserByName(_ context.Context, name string) (store.User, error) {
	return store.User{ID: "usr_test", DisplayName: name}, nil
}
func (f *fakeStore) ListDocuments(context.Context) ([]store.Document, error) { return nil, nil }
func (f *fakeStore) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, documentID)
	}
	return store.Document{ID: documentID, Title: "Doc", Status: "In review"}, nil
}
func (f *fakeStore) InsertDocument(context.Context, store.Document) error { return nil }
func (f *fakeStore) UpdateDocumentState(context.Context, string, string, string, string, string) error {
	return nil
}
func (f *fakeStore) CreateProposal(ctx context.Context, proposal store.Proposal) error {
	if f.createProposalFn != nil {
		return f.createProposalFn(ctx, proposal)
	}
	return nil
}
func (f *fakeStore) GetProposal(ctx context.Context, proposalID string) (store.Proposal, error) {
	if f.getProposalFn != nil {
		return f.getProposalFn(ctx, proposalID)
	}
	return store.Proposal{}, store.ErrNotFound
}
func (f *fakeStore) GetActiveProposal(ctx context.Context, documentID string) (*store.Proposal, error) {
	if f.getActiveProposalFn != nil {
		return f.getActiveProposalFn(ctx, documentID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateProposalStatus(ctx context.Context, proposalID, status string) error {
	if f.updateProposalStatusFn != nil {
		return f.updateProposalStatusFn(ctx, proposalID, status)
	}
	return nil
}
func (f *fakeStore) SeedApprovals(context.Context, string, []string) error { return nil }
func (f *fakeStore) ListApprovals(ctx context.Context, proposalID string) ([]store.Approval, error) {
	if f.listApprovalsFn != nil {
		return f.listApprovalsFn(ctx, proposalID)
	}
	return nil, nil
}
func (f *fakeStore) ApproveRole(ctx context.Context, proposalID, role, approvedBy string) error {
	if f.approveRoleFn != nil {
		return f.approveRoleFn(ctx, proposalID, role, approvedBy)
	}
	return nil
}
func (f *fakeStore) PendingApprovalCount(ctx context.Context, proposalID string) (int, error) {
	if f.pendingApprovalCountFn != nil {
		return f.pendingApprovalCountFn(ctx, proposalID)
	}
	return 0, nil
}
func (f *fakeStore) InsertThread(context.Context, store.Thread) error { return nil }
func (f *fakeStore) GetThread(ctx context.Context, proposalID, threadID string) (store.Thread, error) {
	if f.getThreadFn != nil {
		return f.getThreadFn(ctx, proposalID, threadID)
	}
	return store.Thread{}, store.ErrNotFound
}
func (f *fakeStore) ListThreads(ctx context.Context, proposalID string, includeInternal bool) ([]store.Thread, error) {
	if f.listThreadsFn != nil {
		return f.listThreadsFn(ctx, proposalID, includeInternal)
	}
	return nil, nil
}
func (f *fakeStore) OpenThreadCount(ctx context.Context, proposalID string) (int, error) {
	if f.openThreadCountFn != nil {
		return f.openThreadCountFn(ctx, proposalID)
	}
	return 0, nil
}
func (f *fakeStore) InsertReply(context.Context, store.Reply) error { return nil }
func (f *fakeStore) UpdateThreadVotes(ctx context.Context, threadID string, voteCount int, votesByUser map[string]string) error {
	if f.updateThreadVotesFn != nil {
		return f.updateThreadVotesFn(ctx, threadID, voteCount, votesByUser)
	}
	return nil
}
func (f *fakeStore) UpdateThreadReactions(ctx context.Context, threadID string, reactionsByEmoji map[string][]string) error {
	if f.updateThreadReactionsFn != nil {
		return f.updateThreadReactionsFn(ctx, threadID, reactionsByEmoji)
	}
	return nil
}
func (f *fakeStore) ResolveThread(ctx context.Context, proposalID, threadID, outcome, note string) (bool, error) {
	if f.resolveThreadFn != nil {
		return f.resolveThreadFn(ctx, proposalID, threadID, outcome, note)
	}
	return true, nil
}
func (f *fakeStore) ReopenThread(ctx context.Context, proposalID, threadID string) (bool, error) {
	if f.reopenThreadFn != nil {
		return f.reopenThreadFn(ctx, proposalID, threadID)
	}
	return true, nil
}
func (f *fakeStore) UpdateThreadVisibility(context.Context, string, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) InsertDecisionLog(ctx context.Context, entry store.DecisionLogEntry) error {
	if f.insertDecisionLogFn != nil {
		return f.insertDecisionLogFn(ctx, entry)
	}
	return nil
}
func (f *fakeStore) ListDecisionLogFiltered(ctx context.Context, documentID, proposalID, outcome, author, query string, limit int) ([]store.DecisionLogEntry, error) {
	if f.listDecisionLogFilteredFn != nil {
		return f.listDecisionLogFilteredFn(ctx, documentID, proposalID, outcome, author, query, limit)
	}
	return nil, nil
}
func (f *fakeStore) InsertAuditEvent(ctx context.Context, event store.AuditEvent) error {
	if f.insertAuditEventFn != nil {
		return f.insertAuditEventFn(ctx, event)
	}
	return nil
}
func (f *fakeStore) ListAuditEvents(context.Context, string, int) ([]store.AuditEvent, error) {
	return nil, nil
}
func (f *fakeStore) InsertNamedVersion(ctx context.Context, proposalID, name, hash, createdBy string) error {
	if f.insertNamedVersionFn != nil {
		return f.insertNamedVersionFn(ctx, proposalID, name, hash, createdBy)
	}
	return nil
}
func (f *fakeStore) ListNamedVersions(context.Context, string) ([]store.NamedVersion, error) {
	return nil, nil
}
func (f *fakeStore) PromoteNamedVersions(ctx context.Context, proposalID string) error {
	if f.promoteNamedVersionsFn != nil {
		return f.promoteNamedVersionsFn(ctx, proposalID)
	}
	return nil
}

type fakeGit struct {
	ensureDocumentRepoFn func(string, revision.Content, string) error
	ensureBranchFn       func(string, string, string) error
	commitContentFn      func(string, string, revision.Content, string, string) (store.CommitInfo, error)
	getHeadContentFn     func(string, string) (revision.Content, store.CommitInfo, error)
	historyFn            func(string, string, int) ([]store.CommitInfo, error)
	createTagFn          func(string, string, string) error
	mergeIntoMainFn      func(string, string, string, string) (store.CommitInfo, error)
}

func (f *fakeGit) EnsureDocumentRepo(documentID string, content revision.Content, author string) error {
	if f.ensureDocumentRepoFn != nil {
		return f.ensureDocumentRepoFn(documentID, content, author)
	}
	return nil
}
func (f *fakeGit) EnsureBranch(documentID, branchName, fromBranch string) error {
	if f.ensureBranchFn != nil {
		return f.ensureBranchFn(documentID, branchName, fromBranch)
	}
	return nil
}
func (f *fakeGit) CommitContent(documentID, branchName string, content revision.Content, author, message string) (store.CommitInfo, error) {
	if f.commitContentFn != nil {
		return f.commitContentFn(documentID, branchName, content, author, message)
	}
	return store.CommitInfo{Hash: "abc1234", Author: author, Message: message, CreatedAt: time.Now()}, nil
}
func (f *fakeGit) GetHeadContent(documentID, branchName string) (revision.Content, store.CommitInfo, error) {
	if f.getHeadContentFn != nil {
		return f.getHeadContentFn(documentID, branchName)
	}
	return revision.Content{
		Title:    "Doc",
		Subtitle: "Sub",
		Purpose:  "Purpose",
		Tiers:    "Tiers",
		Enforce:  "Enforce",
	}, store.CommitInfo{Hash: "head123", Author: "Avery", CreatedAt: time.Now(), Message: "head"}, nil
}
func (f *fakeGit) History(documentID, branchName string, limit int) ([]store.CommitInfo, error) {
	if f.historyFn != nil {
		return f.historyFn(documentID, branchName, limit)
	}
	return nil, nil
}
func (f *fakeGit) GetContentByHash(string, string) (revision.Content, error) {
	return revision.Content{}, nil
}
func (f *fakeGit) GetCommitByHash(string, string) (store.CommitInfo, error) {
	return store.CommitInfo{}, nil
}
func (f *fakeGit) CreateTag(documentID, hash, name string) error {
	if f.createTagFn != nil {
		return f.createTagFn(documentID, hash, name)
	}
	return nil
}
func (f *fakeGit) MergeIntoMain(documentID, sourceBranch, author, message string) (store.CommitInfo, error) {
	if f.mergeIntoMainFn != nil {
		return f.mergeIntoMainFn(documentID, sourceBranch, author, message)
	}
	return store.CommitInfo{Hash: "merge99", Author: author, Message: message, CreatedAt: time.Now()}, nil
}

func newTestService(fs *fakeStore, fg *fakeGit) *Service {
	cfg := config.Config{JWTSecret: "test-secret", AccessTTL: time.Minute, SyncSeenTTL: time.Minute}
	return New(cfg, zerolog.Nop(), fs, fg, session.NewMemorySeenSet(time.Minute))
}

func underReviewProposal(documentID string) store.Proposal {
	return store.Proposal{
		ID:           "prop_1",
		DocumentID:   documentID,
		Title:        "Tighten retention windows",
		Status:       "UNDER_REVIEW",
		BranchName:   "proposal-test",
		TargetBranch: "main",
		CreatedBy:    "Avery",
	}
}

func assertDomainError(t *testing.T, err error, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != code {
		t.Fatalf("expected code %s, got %s", code, domainErr.Code)
	}
	return domainErr
}

func TestApproveProposalRoleBlocksLegalUntilTechnicalStage(t *testing.T) {
	fs := &fakeStore{
		getProposalFn: func(_ context.Context, proposalID string) (store.Proposal, error) {
			return underReviewProposal("doc-1"), nil
		},
		listApprovalsFn: func(context.Context, string) ([]store.Approval, error) {
			return []store.Approval{
				{Role: "security", Status: "APPROVED", ApprovedBy: "Sam"},
				{Role: "architectureCommittee", Status: "PENDING"},
				{Role: "legal", Status: "PENDING"},
			}, nil
		},
	}
	service := newTestService(fs, &fakeGit{})

	_, err := service.ApproveProposalRole(context.Background(), "doc-1", "prop_1", "legal", Viewer{Name: "Lena"})
	domainErr := assertDomainError(t, err, "APPROVAL_ORDER_BLOCKED")

	details, ok := domainErr.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected details map, got %T", domainErr.Details)
	}
	blockers, ok := details["blockers"].([]string)
	if !ok {
		t.Fatalf("expected blockers list, got %T", details["blockers"])
	}
	if len(blockers) != 1 || blockers[0] != "architectureCommittee" {
		t.Fatalf("expected only architectureCommittee blocking, got %v", blockers)
	}
}

func TestApproveProposalRoleAllowsLegalOnceTechnicalStageClears(t *testing.T) {
	approved := false
	fs := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return underReviewProposal("doc-1"), nil
		},
		listApprovalsFn: func(context.Context, string) ([]store.Approval, error) {
			return []store.Approval{
				{Role: "security", Status: "APPROVED"},
				{Role: "architectureCommittee", Status: "APPROVED"},
				{Role: "legal", Status: "PENDING"},
			}, nil
		},
		approveRoleFn: func(_ context.Context, _, role, approvedBy string) error {
			if role != "legal" || approvedBy != "Lena" {
				t.Fatalf("unexpected approval %s by %s", role, approvedBy)
			}
			approved = true
			return nil
		},
	}
	service := newTestService(fs, &fakeGit{})

	if _, err := service.ApproveProposalRole(context.Background(), "doc-1", "prop_1", "legal", Viewer{Name: "Lena"}); err != nil {
		t.Fatalf("ApproveProposalRole: %v", err)
	}
	if !approved {
		t.Fatal("expected legal approval to be recorded")
	}
}

func TestApproveProposalRoleRejectsUnknownRole(t *testing.T) {
	service := newTestService(&fakeStore{}, &fakeGit{})
	_, err := service.ApproveProposalRole(context.Background(), "doc-1", "prop_1", "finance", Viewer{Name: "Lena"})
	assertDomainError(t, err, "VALIDATION_ERROR")
}

func TestApproveProposalRoleRequiresUnderReview(t *testing.T) {
	fs := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			proposal := underReviewProposal("doc-1")
			proposal.Status = "DRAFT"
			return proposal, nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	_, err := service.ApproveProposalRole(context.Background(), "doc-1", "prop_1", "security", Viewer{Name: "Sam"})
	assertDomainError(t, err, "PROPOSAL_NOT_UNDER_REVIEW")
}

func TestVoteThreadTogglesAndFlips(t *testing.T) {
	cases := []struct {
		name      string
		votes     map[string]string
		direction string
		wantCount int
		wantVote  string
	}{
		{name: "fresh upvote", votes: map[string]string{}, direction: "up", wantCount: 4, wantVote: "up"},
		{name: "repeat upvote undoes", votes: map[string]string{"Bo": "up"}, direction: "up", wantCount: 2, wantVote: ""},
		{name: "flip up to down", votes: map[string]string{"Bo": "up"}, direction: "down", wantCount: 1, wantVote: "down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var savedCount int
			var savedVotes map[string]string
			fs := &fakeStore{
				getProposalFn: func(context.Context, string) (store.Proposal, error) {
					return underReviewProposal("doc-1"), nil
				},
				getThreadFn: func(context.Context, string, string) (store.Thread, error) {
					return store.Thread{
						ID:               "thr_1",
						ProposalID:       "prop_1",
						Status:           "OPEN",
						Visibility:       "INTERNAL",
						VoteCount:        3,
						VotesByUser:      tc.votes,
						ReactionsByEmoji: map[string][]string{},
					}, nil
				},
				updateThreadVotesFn: func(_ context.Context, _ string, voteCount int, votesByUser map[string]string) error {
					savedCount = voteCount
					savedVotes = votesByUser
					return nil
				},
			}
			service := newTestService(fs, &fakeGit{})

			_, err := service.VoteThread(context.Background(), "doc-1", "prop_1", "thr_1", Viewer{Name: "Bo"}, VoteThreadInput{Direction: tc.direction})
			if err != nil {
				t.Fatalf("VoteThread: %v", err)
			}
			if savedCount != tc.wantCount {
				t.Fatalf("expected count %d, got %d", tc.wantCount, savedCount)
			}
			if savedVotes["Bo"] != tc.wantVote {
				t.Fatalf("expected recorded vote %q, got %q", tc.wantVote, savedVotes["Bo"])
			}
		})
	}
}

func TestVoteThreadRejectsUnknownDirection(t *testing.T) {
	fs := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return underReviewProposal("doc-1"), nil
		},
		getThreadFn: func(context.Context, string, string) (store.Thread, error) {
			return store.Thread{ID: "thr_1", Status: "OPEN", Visibility: "INTERNAL", VotesByUser: map[string]string{}}, nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	_, err := service.VoteThread(context.Background(), "doc-1", "prop_1", "thr_1", Viewer{Name: "Bo"}, VoteThreadInput{Direction: "sideways"})
	assertDomainError(t, err, "VALIDATION_ERROR")
}

func TestMergeProposalBlockedByGate(t *testing.T) {
	fs := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return underReviewProposal("doc-1"), nil
		},
		pendingApprovalCountFn: func(context.Context, string) (int, error) { return 1, nil },
		openThreadCountFn:      func(context.Context, string) (int, error) { return 1, nil },
	}
	merged := false
	fg := &fakeGit{
		mergeIntoMainFn: func(string, string, string, string) (store.CommitInfo, error) {
			merged = true
			return store.CommitInfo{}, nil
		},
	}
	service := newTestService(fs, fg)

	_, err := service.MergeProposal(context.Background(), "doc-1", "prop_1", Viewer{Name: "Avery"})
	domainErr := assertDomainError(t, err, "MERGE_GATE_BLOCKED")
	details := domainErr.Details.(map[string]any)
	if details["pendingApprovals"] != 1 || details["openThreads"] != 1 {
		t.Fatalf("expected gate counts in details, got %v", details)
	}
	if merged {
		t.Fatal("merge must not run while the gate is blocked")
	}
}

func TestMergeProposalPromotesVersionsAndWritesLedger(t *testing.T) {
	var statuses []string
	promoted := false
	var ledger []store.DecisionLogEntry
	fs := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return underReviewProposal("doc-1"), nil
		},
		updateProposalStatusFn: func(_ context.Context, _, status string) error {
			statuses = append(statuses, status)
			return nil
		},
		promoteNamedVersionsFn: func(_ context.Context, proposalID string) error {
			if proposalID != "prop_1" {
				t.Fatalf("unexpected proposal %s promoted", proposalID)
			}
			promoted = true
			return nil
		},
		insertDecisionLogFn: func(_ context.Context, entry store.DecisionLogEntry) error {
			ledger = append(ledger, entry)
			return nil
		},
	}
	service := newTestService(fs, &fakeGit{})

	if _, err := service.MergeProposal(context.Background(), "doc-1", "prop_1", Viewer{Name: "Avery"}); err != nil {
		t.Fatalf("MergeProposal: %v", err)
	}
	if len(statuses) != 1 || statuses[0] != "MERGED" {
		t.Fatalf("expected single MERGED status update, got %v", statuses)
	}
	if !promoted {
		t.Fatal("expected named versions to be promoted to canonical")
	}
	if len(ledger) != 1 || ledger[0].Outcome != "MERGED" || ledger[0].CommitHash != "merge99" {
		t.Fatalf("expected MERGED ledger entry with merge commit, got %+v", ledger)
	}
}

func TestRejectProposalRequiresRationale(t *testing.T) {
	fs := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return underReviewProposal("doc-1"), nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	_, err := service.RejectProposal(context.Background(), "doc-1", "prop_1", "   ", Viewer{Name: "Avery"})
	assertDomainError(t, err, "VALIDATION_ERROR")
}

func TestSubmitProposalRejectsDoubleSubmit(t *testing.T) {
	fs := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return underReviewProposal("doc-1"), nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	_, err := service.SubmitProposal(context.Background(), "doc-1", "prop_1", Viewer{Name: "Avery"})
	if err == nil {
		t.Fatal("expected transition error")
	}
	status, code, _, _ := mapError(err)
	if status != 409 || code != "INVALID_TRANSITION" {
		t.Fatalf("expected 409 INVALID_TRANSITION, got %d %s", status, code)
	}
}

func TestResolveThreadAlreadyResolvedIsNoOp(t *testing.T) {
	resolveCalled := false
	fs := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return underReviewProposal("doc-1"), nil
		},
		getThreadFn: func(context.Context, string, string) (store.Thread, error) {
			return store.Thread{ID: "thr_1", Status: "RESOLVED", Outcome: "ACCEPTED"}, nil
		},
		resolveThreadFn: func(context.Context, string, string, string, string) (bool, error) {
			resolveCalled = true
			return false, nil
		},
	}
	service := newTestService(fs, &fakeGit{})

	if _, err := service.ResolveThread(context.Background(), "doc-1", "prop_1", "thr_1", Viewer{Name: "Avery"}, ResolveThreadInput{}); err != nil {
		t.Fatalf("ResolveThread: %v", err)
	}
	if resolveCalled {
		t.Fatal("resolved thread must not be resolved again")
	}
}

func TestResolveThreadRequiresRationaleForRejected(t *testing.T) {
	fs := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return underReviewProposal("doc-1"), nil
		},
		getThreadFn: func(context.Context, string, string) (store.Thread, error) {
			return store.Thread{ID: "thr_1", Status: "OPEN"}, nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	_, err := service.ResolveThread(context.Background(), "doc-1", "prop_1", "thr_1", Viewer{Name: "Avery"}, ResolveThreadInput{Outcome: "REJECTED"})
	assertDomainError(t, err, "VALIDATION_ERROR")
}

func TestResolveThreadRecordsParticipantsInLedger(t *testing.T) {
	var entry store.DecisionLogEntry
	fs := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return underReviewProposal("doc-1"), nil
		},
		getThreadFn: func(context.Context, string, string) (store.Thread, error) {
			return store.Thread{
				ID:     "thr_1",
				Status: "OPEN",
				Author: "Nadia",
				Replies: []store.Reply{
					{Author: "Bo"},
					{Author: "Nadia"},
				},
			}, nil
		},
		insertDecisionLogFn: func(_ context.Context, item store.DecisionLogEntry) error {
			entry = item
			return nil
		},
	}
	service := newTestService(fs, &fakeGit{})

	if _, err := service.ResolveThread(context.Background(), "doc-1", "prop_1", "thr_1", Viewer{Name: "Avery"}, ResolveThreadInput{Outcome: "accepted", Rationale: "Addressed in rev 3."}); err != nil {
		t.Fatalf("ResolveThread: %v", err)
	}
	if entry.Outcome != "ACCEPTED" {
		t.Fatalf("expected ACCEPTED outcome, got %s", entry.Outcome)
	}
	want := []string{"Nadia", "Avery", "Bo"}
	if len(entry.Participants) != len(want) {
		t.Fatalf("expected participants %v, got %v", want, entry.Participants)
	}
	for i, name := range want {
		if entry.Participants[i] != name {
			t.Fatalf("expected participants %v, got %v", want, entry.Participants)
		}
	}
	if entry.CommitHash != "head123" {
		t.Fatalf("expected ledger pinned to branch head, got %s", entry.CommitHash)
	}
}

func TestReopenThreadFromOpenIsNoOp(t *testing.T) {
	audited := false
	fs := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return underReviewProposal("doc-1"), nil
		},
		getThreadFn: func(context.Context, string, string) (store.Thread, error) {
			return store.Thread{ID: "thr_1", Status: "OPEN"}, nil
		},
		reopenThreadFn: func(context.Context, string, string) (bool, error) {
			return false, nil
		},
		insertAuditEventFn: func(_ context.Context, event store.AuditEvent) error {
			if event.EventType == "thread.reopened" {
				audited = true
			}
			return nil
		},
	}
	service := newTestService(fs, &fakeGit{})

	if _, err := service.ReopenThread(context.Background(), "doc-1", "prop_1", "thr_1", Viewer{Name: "Avery"}); err != nil {
		t.Fatalf("ReopenThread: %v", err)
	}
	if audited {
		t.Fatal("no-op reopen must not emit an audit event")
	}
}

func TestCreateProposalConflictsWhileActive(t *testing.T) {
	existing := underReviewProposal("doc-1")
	fs := &fakeStore{
		getActiveProposalFn: func(context.Context, string) (*store.Proposal, error) {
			return &existing, nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	_, err := service.CreateProposal(context.Background(), "doc-1", "Second proposal", Viewer{Name: "Avery"})
	domainErr := assertDomainError(t, err, "PROPOSAL_ACTIVE")
	details := domainErr.Details.(map[string]any)
	if details["proposalId"] != "prop_1" {
		t.Fatalf("expected conflicting proposal id in details, got %v", details)
	}
}

func TestGetWorkspaceFiltersInternalThreadsForExternalViewers(t *testing.T) {
	proposal := underReviewProposal("doc-1")
	var askedInternal []bool
	fs := &fakeStore{
		getActiveProposalFn: func(context.Context, string) (*store.Proposal, error) {
			return &proposal, nil
		},
		listThreadsFn: func(_ context.Context, _ string, includeInternal bool) ([]store.Thread, error) {
			askedInternal = append(askedInternal, includeInternal)
			return nil, nil
		},
	}
	service := newTestService(fs, &fakeGit{})

	if _, err := service.GetWorkspace(context.Background(), "doc-1", Viewer{Name: "Guest", IsExternal: true}); err != nil {
		t.Fatalf("GetWorkspace external: %v", err)
	}
	if _, err := service.GetWorkspace(context.Background(), "doc-1", Viewer{Name: "Avery"}); err != nil {
		t.Fatalf("GetWorkspace internal: %v", err)
	}
	if len(askedInternal) != 2 || askedInternal[0] || !askedInternal[1] {
		t.Fatalf("expected external=false then internal=true, got %v", askedInternal)
	}
}

func TestGetWorkspaceReportsMergeGate(t *testing.T) {
	proposal := underReviewProposal("doc-1")
	fs := &fakeStore{
		getActiveProposalFn: func(context.Context, string) (*store.Proposal, error) {
			return &proposal, nil
		},
		pendingApprovalCountFn: func(context.Context, string) (int, error) { return 2, nil },
		listThreadsFn: func(context.Context, string, bool) ([]store.Thread, error) {
			return []store.Thread{
				{ID: "thr_1", Status: "OPEN", VotesByUser: map[string]string{}, ReactionsByEmoji: map[string][]string{}},
				{ID: "thr_2", Status: "RESOLVED", VotesByUser: map[string]string{}, ReactionsByEmoji: map[string][]string{}},
			}, nil
		},
	}
	service := newTestService(fs, &fakeGit{})

	payload, err := service.GetWorkspace(context.Background(), "doc-1", Viewer{Name: "Avery"})
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	gate := payload["mergeGate"].(map[string]any)
	if gate["pendingApprovals"] != 2 || gate["openThreads"] != 1 {
		t.Fatalf("unexpected gate counts: %v", gate)
	}
	if gate["mergeReady"] != false {
		t.Fatal("gate must not be ready with pending work")
	}
}

func TestHandleSyncSessionEndedDedupesSessionID(t *testing.T) {
	proposal := underReviewProposal("doc-1")
	commits := 0
	fs := &fakeStore{
		getActiveProposalFn: func(context.Context, string) (*store.Proposal, error) {
			return &proposal, nil
		},
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return proposal, nil
		},
	}
	fg := &fakeGit{
		commitContentFn: func(_, _ string, _ revision.Content, _, _ string) (store.CommitInfo, error) {
			commits++
			return store.CommitInfo{Hash: "sync001", CreatedAt: time.Now()}, nil
		},
	}
	service := newTestService(fs, fg)

	snapshot := &WorkspaceContent{Title: "Doc", Subtitle: "Sub", Purpose: "New purpose text"}
	first, err := service.HandleSyncSessionEnded(context.Background(), "sess-42", "doc-1", "prop_1", "Nadia", 7, snapshot)
	if err != nil {
		t.Fatalf("first flush: %v", err)
	}
	if first["ignored"] != false || first["flushCommit"] != "sync001" {
		t.Fatalf("expected applied flush, got %v", first)
	}

	second, err := service.HandleSyncSessionEnded(context.Background(), "sess-42", "doc-1", "prop_1", "Nadia", 7, snapshot)
	if err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if second["ignored"] != true {
		t.Fatalf("expected duplicate to be ignored, got %v", second)
	}
	if commits != 1 {
		t.Fatalf("expected exactly one commit, got %d", commits)
	}
}

func TestHandleSyncSessionEndedRequiresSessionID(t *testing.T) {
	service := newTestService(&fakeStore{}, &fakeGit{})
	_, err := service.HandleSyncSessionEnded(context.Background(), "  ", "doc-1", "", "Nadia", 1, nil)
	assertDomainError(t, err, "VALIDATION_ERROR")
}

func TestHandleSyncSessionEndedNoChangeSkipsCommit(t *testing.T) {
	proposal := underReviewProposal("doc-1")
	commits := 0
	fs := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return proposal, nil
		},
	}
	fg := &fakeGit{
		commitContentFn: func(_, _ string, _ revision.Content, _, _ string) (store.CommitInfo, error) {
			commits++
			return store.CommitInfo{Hash: "x"}, nil
		},
	}
	service := newTestService(fs, fg)

	// Snapshot matches the fake head content exactly.
	snapshot := &WorkspaceContent{Title: "Doc", Subtitle: "Sub", Purpose: "Purpose", Tiers: "Tiers", Enforce: "Enforce"}
	payload, err := service.HandleSyncSessionEnded(context.Background(), "sess-77", "doc-1", "prop_1", "Nadia", 3, snapshot)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if payload["ignored"] != true {
		t.Fatalf("expected no-change flush to be ignored, got %v", payload)
	}
	if commits != 0 {
		t.Fatalf("expected no commit, got %d", commits)
	}
}

func TestSaveNamedVersionRejectsBlankName(t *testing.T) {
	fs := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return underReviewProposal("doc-1"), nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	_, err := service.SaveNamedVersion(context.Background(), "doc-1", "prop_1", "   ", Viewer{Name: "Avery"})
	assertDomainError(t, err, "VALIDATION_ERROR")
}

func TestSaveNamedVersionTagsBranchHead(t *testing.T) {
	var taggedHash, tagName string
	fs := &fakeStore{
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return underReviewProposal("doc-1"), nil
		},
	}
	fg := &fakeGit{
		createTagFn: func(_, hash, name string) error {
			taggedHash = hash
			tagName = name
			return nil
		},
	}
	service := newTestService(fs, fg)

	if _, err := service.SaveNamedVersion(context.Background(), "doc-1", "prop_1", "Board Review Draft!", Viewer{Name: "Avery"}); err != nil {
		t.Fatalf("SaveNamedVersion: %v", err)
	}
	if taggedHash != "head123" {
		t.Fatalf("expected branch head tagged, got %s", taggedHash)
	}
	if tagName != "nv-board-review-draft-head123" {
		t.Fatalf("unexpected tag name %s", tagName)
	}
}

func TestBuildNamedVersionTagNameSanitizes(t *testing.T) {
	got := buildNamedVersionTagName("  Q3 / Legal SIGN-OFF  ", "ABCDEF1234567890")
	if got != "nv-q3-legal-sign-off-abcdef123456" {
		t.Fatalf("unexpected tag name %s", got)
	}
	if buildNamedVersionTagName("???", "zz") != "nv-version-head" {
		t.Fatalf("expected fallback slug and hash, got %s", buildNamedVersionTagName("???", "zz"))
	}
}

func TestSaveWorkspaceDerivesLegacyFieldsFromDoc(t *testing.T) {
	var committed revision.Content
	commits := 0
	proposal := store.Proposal{ID: "prop_1", DocumentID: "doc-1", Status: "DRAFT", BranchName: "proposal-test", TargetBranch: "main"}
	fs := &fakeStore{
		getActiveProposalFn: func(context.Context, string) (*store.Proposal, error) {
			return &proposal, nil
		},
		getProposalFn: func(context.Context, string) (store.Proposal, error) {
			return proposal, nil
		},
	}
	fg := &fakeGit{
		commitContentFn: func(_, _ string, content revision.Content, _, _ string) (store.CommitInfo, error) {
			committed = content
			commits++
			return store.CommitInfo{Hash: "c1", CreatedAt: time.Now()}, nil
		},
	}
	service := newTestService(fs, fg)

	doc := json.RawMessage(`{"type":"doc","content":[
		{"type":"heading","attrs":{"nodeId":"n1","level":1},"content":[{"type":"text","text":"Access Control Policy"}]},
		{"type":"paragraph","attrs":{"nodeId":"n2"},"content":[{"type":"text","text":"Who may touch what, and when."}]}
	]}`)
	if _, err := service.SaveWorkspace(context.Background(), "doc-1", WorkspaceContent{Doc: doc}, Viewer{Name: "Avery"}); err != nil {
		t.Fatalf("SaveWorkspace: %v", err)
	}
	if commits != 1 {
		t.Fatalf("expected one commit, got %d", commits)
	}
	if committed.Title != "Access Control Policy" {
		t.Fatalf("expected title derived from heading, got %q", committed.Title)
	}
	if committed.Subtitle != "Who may touch what, and when." {
		t.Fatalf("expected subtitle derived from first paragraph, got %q", committed.Subtitle)
	}
}

func TestSaveWorkspaceRejectsMalformedDoc(t *testing.T) {
	proposal := store.Proposal{ID: "prop_1", DocumentID: "doc-1", Status: "DRAFT", BranchName: "proposal-test"}
	fs := &fakeStore{
		getActiveProposalFn: func(context.Context, string) (*store.Proposal, error) {
			return &proposal, nil
		},
	}
	service := newTestService(fs, &fakeGit{})
	_, err := service.SaveWorkspace(context.Background(), "doc-1", WorkspaceContent{Doc: json.RawMessage(`{"type":"paragraph"}`)}, Viewer{Name: "Avery"})
	assertDomainError(t, err, "VALIDATION_ERROR")
}

func TestDecisionLogRejectsUnknownOutcomeFilter(t *testing.T) {
	service := newTestService(&fakeStore{}, &fakeGit{})
	_, err := service.DecisionLog(context.Background(), "doc-1", DecisionLogFilterInput{Outcome: "SHIPPED"})
	assertDomainError(t, err, "VALIDATION_ERROR")
}

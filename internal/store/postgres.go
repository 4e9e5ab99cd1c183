package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"quorum/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, is_external FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.IsExternal)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insertUser = `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, is_external
	`
	if err := s.db.QueryRowContext(ctx, insertUser, util.NewID("usr"), name).Scan(&user.ID, &user.DisplayName, &user.IsExternal); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, subtitle, status, updated_by, updated_at
		FROM documents
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var items []Document
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.Title, &item.Subtitle, &item.Status, &item.UpdatedBy, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, subtitle, status, updated_by, updated_at
		FROM documents WHERE id = $1
	`, documentID).Scan(&item.ID, &item.Title, &item.Subtitle, &item.Status, &item.UpdatedBy, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, subtitle, status, updated_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Title, item.Subtitle, item.Status, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentState(ctx context.Context, documentID, title, subtitle, status, updatedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title = $2, subtitle = $3, status = $4, updated_by = $5, updated_at = NOW()
		WHERE id = $1
	`, documentID, title, subtitle, status, updatedBy)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateProposal(ctx context.Context, proposal Proposal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, document_id, title, status, branch_name, target_branch, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, proposal.ID, proposal.DocumentID, proposal.Title, proposal.Status, proposal.BranchName, proposal.TargetBranch, proposal.CreatedBy)
	if err != nil {
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	var item Proposal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, title, status, branch_name, target_branch, created_by, created_at
		FROM proposals WHERE id = $1
	`, proposalID).Scan(&item.ID, &item.DocumentID, &item.Title, &item.Status, &item.BranchName, &item.TargetBranch, &item.CreatedBy, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Proposal{}, fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
	}
	if err != nil {
		return Proposal{}, fmt.Errorf("get proposal: %w", err)
	}
	return item, nil
}

// GetActiveProposal returns the document's non-terminal proposal, or nil.
func (s *PostgresStore) GetActiveProposal(ctx context.Context, documentID string) (*Proposal, error) {
	var item Proposal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, title, status, branch_name, target_branch, created_by, created_at
		FROM proposals
		WHERE document_id = $1 AND status NOT IN ('MERGED', 'REJECTED')
		ORDER BY created_at DESC
		LIMIT 1
	`, documentID).Scan(&item.ID, &item.DocumentID, &item.Title, &item.Status, &item.BranchName, &item.TargetBranch, &item.CreatedBy, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active proposal: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) UpdateProposalStatus(ctx context.Context, proposalID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE proposals SET status = $2 WHERE id = $1`, proposalID, status)
	if err != nil {
		return fmt.Errorf("update proposal status: %w", err)
	}
	return nil
}

func (s *PostgresStore) SeedApprovals(ctx context.Context, proposalID string, roles []string) error {
	for _, role := range roles {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO approvals (proposal_id, role, status)
			VALUES ($1, $2, 'PENDING')
			ON CONFLICT (proposal_id, role) DO NOTHING
		`, proposalID, role)
		if err != nil {
			return fmt.Errorf("seed approval %s: %w", role, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListApprovals(ctx context.Context, proposalID string) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, status, approved_by, approved_at
		FROM approvals WHERE proposal_id = $1
		ORDER BY role
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var items []Approval
	for rows.Next() {
		var item Approval
		if err := rows.Scan(&item.Role, &item.Status, &item.ApprovedBy, &item.ApprovedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ApproveRole is idempotent: an already approved role keeps its original
// approver and timestamp.
func (s *PostgresStore) ApproveRole(ctx context.Context, proposalID, role, approvedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = 'APPROVED', approved_by = $3, approved_at = NOW()
		WHERE proposal_id = $1 AND role = $2 AND status <> 'APPROVED'
	`, proposalID, role, approvedBy)
	if err != nil {
		return fmt.Errorf("approve role: %w", err)
	}
	return nil
}

func (s *PostgresStore) PendingApprovalCount(ctx context.Context, proposalID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM approvals WHERE proposal_id = $1 AND status <> 'APPROVED'
	`, proposalID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("pending approval count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertThread(ctx context.Context, thread Thread) error {
	votes, reactions, err := marshalDeliberation(thread)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (
			id, proposal_id, anchor_node_id, anchor_offsets, anchor_quote,
			body, status, type, visibility, author, vote_count, votes_by_user, reactions_by_emoji
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, thread.ID, thread.ProposalID, thread.AnchorNodeID, nullableJSON(thread.AnchorOffsets), thread.AnchorQuote,
		thread.Body, thread.Status, thread.Type, thread.Visibility, thread.Author, thread.VoteCount, votes, reactions)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

const threadColumns = `
	id, proposal_id, anchor_node_id, anchor_offsets, anchor_quote,
	body, status, type, visibility, outcome, resolution_note, author,
	vote_count, votes_by_user, reactions_by_emoji, created_at
`

func (s *PostgresStore) GetThread(ctx context.Context, proposalID, threadID string) (Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads WHERE proposal_id = $1 AND id = $2
	`, proposalID, threadID)
	thread, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return Thread{}, fmt.Errorf("get thread: %w", err)
	}
	thread.Replies, err = s.listReplies(ctx, thread.ID)
	if err != nil {
		return Thread{}, err
	}
	return thread, nil
}

// ListThreads returns the proposal's threads oldest first. Internal threads
// are filtered out for external viewers.
func (s *PostgresStore) ListThreads(ctx context.Context, proposalID string, includeInternal bool) ([]Thread, error) {
	query := `
		SELECT ` + threadColumns + `
		FROM threads WHERE proposal_id = $1
	`
	if !includeInternal {
		query += ` AND visibility = 'EXTERNAL'`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var items []Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		items = append(items, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Replies, err = s.listReplies(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *PostgresStore) OpenThreadCount(ctx context.Context, proposalID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM threads WHERE proposal_id = $1 AND status = 'OPEN'
	`, proposalID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("open thread count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertReply(ctx context.Context, reply Reply) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_replies (id, thread_id, author, body)
		VALUES ($1, $2, $3, $4)
	`, reply.ID, reply.ThreadID, reply.Author, reply.Body)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateThreadVotes(ctx context.Context, threadID string, voteCount int, votesByUser map[string]string) error {
	votes, err := json.Marshal(orEmptyVotes(votesByUser))
	if err != nil {
		return fmt.Errorf("marshal votes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE threads SET vote_count = $2, votes_by_user = $3 WHERE id = $1
	`, threadID, voteCount, votes)
	if err != nil {
		return fmt.Errorf("update thread votes: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateThreadReactions(ctx context.Context, threadID string, reactionsByEmoji map[string][]string) error {
	reactions, err := json.Marshal(orEmptyReactions(reactionsByEmoji))
	if err != nil {
		return fmt.Errorf("marshal reactions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE threads SET reactions_by_emoji = $2 WHERE id = $1
	`, threadID, reactions)
	if err != nil {
		return fmt.Errorf("update thread reactions: %w", err)
	}
	return nil
}

// ResolveThread flips an OPEN thread to RESOLVED and reports whether a row
// actually changed, so a repeated resolve reads as a no-op.
func (s *PostgresStore) ResolveThread(ctx context.Context, proposalID, threadID, outcome, note string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE threads
		SET status = 'RESOLVED', outcome = $3, resolution_note = $4
		WHERE proposal_id = $1 AND id = $2 AND status = 'OPEN'
	`, proposalID, threadID, outcome, note)
	if err != nil {
		return false, fmt.Errorf("resolve thread: %w", err)
	}
	return rowChanged(result)
}

func (s *PostgresStore) ReopenThread(ctx context.Context, proposalID, threadID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE threads
		SET status = 'OPEN', outcome = '', resolution_note = ''
		WHERE proposal_id = $1 AND id = $2 AND status = 'RESOLVED'
	`, proposalID, threadID)
	if err != nil {
		return false, fmt.Errorf("reopen thread: %w", err)
	}
	return rowChanged(result)
}

func (s *PostgresStore) UpdateThreadVisibility(ctx context.Context, proposalID, threadID, visibility string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE threads SET visibility = $3 WHERE proposal_id = $1 AND id = $2
	`, proposalID, threadID, visibility)
	if err != nil {
		return false, fmt.Errorf("update thread visibility: %w", err)
	}
	return rowChanged(result)
}

func (s *PostgresStore) InsertDecisionLog(ctx context.Context, entry DecisionLogEntry) error {
	participants, err := json.Marshal(orEmptyStrings(entry.Participants))
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decision_log (document_id, proposal_id, thread_id, outcome, rationale, decided_by, commit_hash, participants)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.DocumentID, entry.ProposalID, entry.ThreadID, entry.Outcome, entry.Rationale, entry.DecidedBy, entry.CommitHash, participants)
	if err != nil {
		return fmt.Errorf("insert decision log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDecisionLogFiltered(ctx context.Context, documentID, proposalID, outcome, author, query string, limit int) ([]DecisionLogEntry, error) {
	conditions := []string{"1=1"}
	args := []any{}
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if documentID != "" {
		conditions = append(conditions, "document_id = "+arg(documentID))
	}
	if proposalID != "" {
		conditions = append(conditions, "proposal_id = "+arg(proposalID))
	}
	if outcome != "" {
		conditions = append(conditions, "outcome = "+arg(outcome))
	}
	if author != "" {
		conditions = append(conditions, "decided_by ILIKE "+arg("%"+author+"%"))
	}
	if query != "" {
		pattern := arg("%" + query + "%")
		conditions = append(conditions, fmt.Sprintf(
			"(rationale ILIKE %s OR decided_by ILIKE %s OR commit_hash ILIKE %s OR participants::text ILIKE %s)",
			pattern, pattern, pattern, pattern,
		))
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	sqlQuery := `
		SELECT id, document_id, proposal_id, thread_id, outcome, rationale, decided_by, decided_at, commit_hash, participants
		FROM decision_log
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY decided_at DESC, id DESC
		LIMIT ` + arg(limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("list decision log: %w", err)
	}
	defer rows.Close()

	var items []DecisionLogEntry
	for rows.Next() {
		var item DecisionLogEntry
		var participants []byte
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.ProposalID, &item.ThreadID, &item.Outcome, &item.Rationale, &item.DecidedBy, &item.DecidedAt, &item.CommitHash, &participants); err != nil {
			return nil, fmt.Errorf("scan decision log: %w", err)
		}
		if err := json.Unmarshal(participants, &item.Participants); err != nil {
			return nil, fmt.Errorf("decode participants: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	payload, err := json.Marshal(orEmptyPayload(event.Payload))
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_type, actor_name, document_id, proposal_id, thread_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.EventType, event.ActorName, event.DocumentID, event.ProposalID, event.ThreadID, payload)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, documentID string, limit int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, actor_name, document_id, proposal_id, thread_id, payload, created_at
		FROM audit_events
		WHERE document_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var items []AuditEvent
	for rows.Next() {
		var item AuditEvent
		var payload []byte
		if err := rows.Scan(&item.ID, &item.EventType, &item.ActorName, &item.DocumentID, &item.ProposalID, &item.ThreadID, &payload, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if err := json.Unmarshal(payload, &item.Payload); err != nil {
			return nil, fmt.Errorf("decode audit payload: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertNamedVersion(ctx context.Context, proposalID, name, hash, createdBy string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO named_versions (proposal_id, name, hash, created_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (proposal_id, name) DO UPDATE SET hash = EXCLUDED.hash, created_by = EXCLUDED.created_by
	`, proposalID, name, hash, createdBy)
	if err != nil {
		return fmt.Errorf("insert named version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNamedVersions(ctx context.Context, proposalID string) ([]NamedVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT proposal_id, name, hash, created_by, created_at
		FROM named_versions
		WHERE proposal_id = $1 OR proposal_id = ''
		ORDER BY created_at DESC
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list named versions: %w", err)
	}
	defer rows.Close()

	var items []NamedVersion
	for rows.Next() {
		var item NamedVersion
		if err := rows.Scan(&item.ProposalID, &item.Name, &item.Hash, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan named version: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// PromoteNamedVersions re-keys a merged proposal's bookmarks to the empty
// proposal id, which is how canonical-branch bookmarks are stored.
func (s *PostgresStore) PromoteNamedVersions(ctx context.Context, proposalID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE named_versions SET proposal_id = ''
		WHERE proposal_id = $1
			AND name NOT IN (SELECT name FROM named_versions WHERE proposal_id = '')
	`, proposalID)
	if err != nil {
		return fmt.Errorf("promote named versions: %w", err)
	}
	return nil
}

func (s *PostgresStore) listReplies(ctx context.Context, threadID string) ([]Reply, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, author, body, created_at
		FROM thread_replies
		WHERE thread_id = $1
		ORDER BY created_at ASC, id ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	var items []Reply
	for rows.Next() {
		var item Reply
		if err := rows.Scan(&item.ID, &item.ThreadID, &item.Author, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (Thread, error) {
	var thread Thread
	var offsets, votes, reactions []byte
	err := row.Scan(
		&thread.ID, &thread.ProposalID, &thread.AnchorNodeID, &offsets, &thread.AnchorQuote,
		&thread.Body, &thread.Status, &thread.Type, &thread.Visibility, &thread.Outcome,
		&thread.ResolutionNote, &thread.Author, &thread.VoteCount, &votes, &reactions, &thread.CreatedAt,
	)
	if err != nil {
		return Thread{}, err
	}
	if len(offsets) > 0 {
		thread.AnchorOffsets = json.RawMessage(offsets)
	}
	if err := json.Unmarshal(votes, &thread.VotesByUser); err != nil {
		return Thread{}, fmt.Errorf("decode votes: %w", err)
	}
	if err := json.Unmarshal(reactions, &thread.ReactionsByEmoji); err != nil {
		return Thread{}, fmt.Errorf("decode reactions: %w", err)
	}
	if thread.VotesByUser == nil {
		thread.VotesByUser = map[string]string{}
	}
	if thread.ReactionsByEmoji == nil {
		thread.ReactionsByEmoji = map[string][]string{}
	}
	return thread, nil
}

func marshalDeliberation(thread Thread) ([]byte, []byte, error) {
	votes, err := json.Marshal(orEmptyVotes(thread.VotesByUser))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal votes: %w", err)
	}
	reactions, err := json.Marshal(orEmptyReactions(thread.ReactionsByEmoji))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal reactions: %w", err)
	}
	return votes, reactions, nil
}

func rowChanged(result sql.Result) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func orEmptyVotes(votes map[string]string) map[string]string {
	if votes == nil {
		return map[string]string{}
	}
	return votes
}

func orEmptyReactions(reactions map[string][]string) map[string][]string {
	if reactions == nil {
		return map[string][]string{}
	}
	return reactions
}

func orEmptyStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func orEmptyPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	return payload
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GravityFactor pulls a note 5% closer to the canvas origin per upvote.
const GravityFactor = 0.95

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

// ---------------------------------------------------------------------------
// Identities

// InsertIdentity creates an active identity row for token if none exists.
// The partial unique index on active tokens makes concurrent first-contact
// inserts collapse to a single winner; losers fall through to the fetch.
func (s *PostgresStore) InsertIdentity(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (token)
		VALUES ($1)
		ON CONFLICT (token) WHERE lifecycle_state = 'active' DO NOTHING
	`, token)
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetActiveIdentityByToken(ctx context.Context, token string) (Identity, error) {
	var item Identity
	var claimedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, token, claimed_by_account, lifecycle_state, created_at, soft_deleted_at
		FROM identities
		WHERE token=$1 AND lifecycle_state='active'
	`, token).Scan(&item.ID, &item.Token, &claimedBy, &item.State, &item.CreatedAt, &item.SoftDeletedAt)
	if err != nil {
		return Identity{}, err
	}
	item.ClaimedBy = claimedBy.String
	return item, nil
}

// ClaimIdentity links an identity to an account. Returns false when the row is
// already claimed by a different account (or gone); idempotent for the same account.
func (s *PostgresStore) ClaimIdentity(ctx context.Context, identityID, accountID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET claimed_by_account=$2
		WHERE id=$1
			AND lifecycle_state='active'
			AND (claimed_by_account IS NULL OR claimed_by_account=$2)
	`, identityID, accountID)
	if err != nil {
		return false, fmt.Errorf("claim identity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim identity rows: %w", err)
	}
	return affected > 0, nil
}

// TokenWasSoftDeleted reports whether a soft-deleted record for token still
// exists, which blocks claims until the purge clears it.
func (s *PostgresStore) TokenWasSoftDeleted(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM identities WHERE token=$1 AND lifecycle_state='soft_deleted')`,
		token,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check soft-deleted token: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) SoftDeleteExpiredIdentities(ctx context.Context, now time.Time, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET lifecycle_state='soft_deleted', soft_deleted_at=$1
		WHERE lifecycle_state='active'
			AND claimed_by_account IS NULL
			AND created_at <= $2
	`, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("soft delete identities: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) PurgeIdentities(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM identities
		WHERE lifecycle_state='soft_deleted' AND soft_deleted_at <= $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge identities: %w", err)
	}
	return result.RowsAffected()
}

// ---------------------------------------------------------------------------
// Accounts

func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) (Account, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (email, display_name, password_hash, verification_code, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, account.Email, account.DisplayName, account.PasswordHash,
		account.VerificationCode, account.VerificationExpiresAt,
	).Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	return s.getAccount(ctx, `WHERE email=$1`, email)
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, accountID string) (Account, error) {
	return s.getAccount(ctx, `WHERE id=$1`, accountID)
}

func (s *PostgresStore) getAccount(ctx context.Context, where string, arg any) (Account, error) {
	var item Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, is_email_verified,
			verification_code, verification_expires_at, created_at
		FROM accounts `+where,
		arg,
	).Scan(&item.ID, &item.Email, &item.DisplayName, &item.PasswordHash,
		&item.IsEmailVerified, &item.VerificationCode, &item.VerificationExpiresAt, &item.CreatedAt)
	if err != nil {
		return Account{}, err
	}
	return item, nil
}

func (s *PostgresStore) SetVerificationCode(ctx context.Context, accountID, code string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET verification_code=$2, verification_expires_at=$3
		WHERE id=$1
	`, accountID, code, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification code: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyAccountEmail(ctx context.Context, email, code string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET is_email_verified=TRUE, verification_code='', verification_expires_at=NULL
		WHERE email=$1
			AND verification_code=$2
			AND verification_code <> ''
			AND verification_expires_at > $3
	`, email, code, now)
	if err != nil {
		return false, fmt.Errorf("verify account email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("verify account email rows: %w", err)
	}
	return affected > 0, nil
}

// ---------------------------------------------------------------------------
// Refresh sessions (Postgres fallback when Redis is not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, account Account, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, account_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET account_id=EXCLUDED.account_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, account.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Account, error) {
	var item Account
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.email, a.display_name, a.is_email_verified, a.created_at
		FROM refresh_sessions rs
		JOIN accounts a ON a.id = rs.account_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&item.ID, &item.Email, &item.DisplayName, &item.IsEmailVerified, &item.CreatedAt)
	if err != nil {
		return Account{}, err
	}
	return item, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Boards

const boardColumns = `
	b.id, b.title, b.is_public, b.secret_admin_token, b.creator_identity,
	COALESCE(i.claimed_by_account, ''), b.created_at, b.is_soft_deleted, b.soft_deleted_at
`

func (s *PostgresStore) InsertBoard(ctx context.Context, item Board) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (id, title, is_public, secret_admin_token, creator_identity)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.Title, item.IsPublic, item.SecretAdminToken, item.CreatorIdentity)
	if err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	var item Board
	err := s.db.QueryRowContext(ctx, `
		SELECT `+boardColumns+`
		FROM boards b
		LEFT JOIN identities i ON i.id = b.creator_identity
		WHERE b.id=$1 AND NOT b.is_soft_deleted
	`, boardID).Scan(
		&item.ID, &item.Title, &item.IsPublic, &item.SecretAdminToken, &item.CreatorIdentity,
		&item.CreatorClaimedBy, &item.CreatedAt, &item.IsSoftDeleted, &item.SoftDeletedAt,
	)
	if err != nil {
		return Board{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateBoard(ctx context.Context, boardID, title string, isPublic bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE boards SET title=$2, is_public=$3 WHERE id=$1 AND NOT is_soft_deleted
	`, boardID, title, isPublic)
	if err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteBoard(ctx context.Context, boardID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE boards SET is_soft_deleted=TRUE, soft_deleted_at=NOW() WHERE id=$1 AND NOT is_soft_deleted
	`, boardID)
	if err != nil {
		return fmt.Errorf("soft delete board: %w", err)
	}
	return nil
}

// UpdateBoardCreator reassigns a board to another identity during a master-key
// claim from a new browser.
func (s *PostgresStore) UpdateBoardCreator(ctx context.Context, boardID, identityID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE boards SET creator_identity=$2 WHERE id=$1 AND NOT is_soft_deleted
	`, boardID, identityID)
	if err != nil {
		return fmt.Errorf("update board creator: %w", err)
	}
	return nil
}

const boardListColumns = `
	b.id, b.title, b.is_public, b.secret_admin_token, b.creator_identity,
	COALESCE(i.claimed_by_account, ''), b.created_at, b.is_soft_deleted, b.soft_deleted_at,
	COALESCE(n.note_count, 0), COALESCE(n.total_upvotes, 0)
`

const boardListJoins = `
	LEFT JOIN identities i ON i.id = b.creator_identity
	LEFT JOIN (
		SELECT n.board_id, COUNT(DISTINCT n.id) AS note_count, COUNT(u.id) AS total_upvotes
		FROM notes n
		LEFT JOIN upvotes u ON u.note_id = n.id
		GROUP BY n.board_id
	) n ON n.board_id = b.id
`

func (s *PostgresStore) listBoards(ctx context.Context, where, order string, args ...any) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+boardListColumns+`
		FROM boards b
		`+boardListJoins+`
		WHERE NOT b.is_soft_deleted AND `+where+`
		ORDER BY `+order,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	items := make([]Board, 0)
	for rows.Next() {
		var item Board
		if err := rows.Scan(
			&item.ID, &item.Title, &item.IsPublic, &item.SecretAdminToken, &item.CreatorIdentity,
			&item.CreatorClaimedBy, &item.CreatedAt, &item.IsSoftDeleted, &item.SoftDeletedAt,
			&item.NoteCount, &item.TotalUpvotes,
		); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return items, nil
}

// SearchPublicBoards is the discovery gallery query. An empty query lists all
// public boards; sort is "recent" or "popular".
func (s *PostgresStore) SearchPublicBoards(ctx context.Context, query, sort string, limit, offset int) ([]Board, error) {
	order := "b.created_at DESC"
	if sort == "popular" {
		order = "COALESCE(n.total_upvotes, 0) DESC, b.created_at DESC"
	}
	order += " LIMIT " + strconv.Itoa(limit) + " OFFSET " + strconv.Itoa(offset)

	if strings.TrimSpace(query) == "" {
		return s.listBoards(ctx, `b.is_public`, order)
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	return s.listBoards(ctx, `b.is_public AND (
		b.title ILIKE $1
		OR EXISTS (SELECT 1 FROM notes sn WHERE sn.board_id = b.id AND sn.content ILIKE $1)
	)`, order, pattern)
}

func (s *PostgresStore) ListBoardsByClaimedAccount(ctx context.Context, accountID string) ([]Board, error) {
	return s.listBoards(ctx, `i.claimed_by_account = $1`, `b.created_at DESC`, accountID)
}

func (s *PostgresStore) ListBoardsByCreatorIdentity(ctx context.Context, identityID string) ([]Board, error) {
	return s.listBoards(ctx, `b.creator_identity = $1`, `b.created_at DESC`, identityID)
}

func (s *PostgresStore) ListBoardsInvited(ctx context.Context, email string) ([]Board, error) {
	return s.listBoards(ctx, `EXISTS (
		SELECT 1 FROM board_invites bi WHERE bi.board_id = b.id AND bi.email = $1
	)`, `b.created_at DESC`, email)
}

func (s *PostgresStore) SoftDeleteUnclaimedBoards(ctx context.Context, now time.Time, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE boards b
		SET is_soft_deleted=TRUE, soft_deleted_at=$1
		WHERE NOT b.is_soft_deleted
			AND b.created_at <= $2
			AND NOT EXISTS (
				SELECT 1 FROM identities i
				WHERE i.id = b.creator_identity AND i.claimed_by_account IS NOT NULL
			)
	`, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("soft delete boards: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) PurgeBoards(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM boards WHERE is_soft_deleted AND soft_deleted_at <= $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge boards: %w", err)
	}
	return result.RowsAffected()
}

// ---------------------------------------------------------------------------
// Invites

func (s *PostgresStore) InsertInvite(ctx context.Context, boardID, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO board_invites (board_id, email)
		VALUES ($1, $2)
		ON CONFLICT (board_id, email) DO NOTHING
	`, boardID, email)
	if err != nil {
		return fmt.Errorf("insert invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteInvite(ctx context.Context, boardID, email string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM board_invites WHERE board_id=$1 AND email=$2`, boardID, email)
	if err != nil {
		return fmt.Errorf("delete invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasInvite(ctx context.Context, boardID, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM board_invites WHERE board_id=$1 AND email=$2)`,
		boardID, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check invite: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListInvites(ctx context.Context, boardID string) ([]BoardInvite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT board_id, email, invited_at FROM board_invites WHERE board_id=$1 ORDER BY invited_at
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	items := make([]BoardInvite, 0)
	for rows.Next() {
		var item BoardInvite
		if err := rows.Scan(&item.BoardID, &item.Email, &item.InvitedAt); err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invites: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Notes

const noteColumns = `
	n.id, n.board_id, n.creator_identity, n.content, n.color,
	n.position_x, n.position_y, n.is_anonymous_to_public, n.created_at,
	(SELECT COUNT(*) FROM upvotes u WHERE u.note_id = n.id)
`

func scanNote(row interface{ Scan(...any) error }) (Note, error) {
	var item Note
	err := row.Scan(
		&item.ID, &item.BoardID, &item.CreatorIdentity, &item.Content, &item.Color,
		&item.PositionX, &item.PositionY, &item.IsAnonymousToPublic, &item.CreatedAt, &item.UpvoteCount,
	)
	return item, err
}

func (s *PostgresStore) InsertNote(ctx context.Context, item Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, board_id, creator_identity, content, color, position_x, position_y, is_anonymous_to_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.BoardID, item.CreatorIdentity, item.Content, item.Color, item.PositionX, item.PositionY, item.IsAnonymousToPublic)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes n WHERE n.id=$1`, noteID)
	item, err := scanNote(row)
	if err != nil {
		return Note{}, err
	}
	return item, nil
}

// NotePatch carries the subset of note fields a partial update touches.
type NotePatch struct {
	PositionX           *float64
	PositionY           *float64
	Content             *string
	Color               *string
	IsAnonymousToPublic *bool
}

// Fields returns the names of the fields the patch touches, for the access check.
func (p NotePatch) Fields() []string {
	fields := make([]string, 0, 5)
	if p.PositionX != nil {
		fields = append(fields, "positionX")
	}
	if p.PositionY != nil {
		fields = append(fields, "positionY")
	}
	if p.Content != nil {
		fields = append(fields, "content")
	}
	if p.Color != nil {
		fields = append(fields, "color")
	}
	if p.IsAnonymousToPublic != nil {
		fields = append(fields, "isAnonymousToPublic")
	}
	return fields
}

func (s *PostgresStore) UpdateNote(ctx context.Context, noteID string, patch NotePatch) (Note, error) {
	set := make([]string, 0, 5)
	args := []any{noteID}
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if patch.PositionX != nil {
		add("position_x", *patch.PositionX)
	}
	if patch.PositionY != nil {
		add("position_y", *patch.PositionY)
	}
	if patch.Content != nil {
		add("content", *patch.Content)
	}
	if patch.Color != nil {
		add("color", *patch.Color)
	}
	if patch.IsAnonymousToPublic != nil {
		add("is_anonymous_to_public", *patch.IsAnonymousToPublic)
	}
	if len(set) == 0 {
		return s.GetNote(ctx, noteID)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE notes n SET `+strings.Join(set, ", ")+`
		WHERE n.id=$1
		RETURNING `+noteColumns,
		args...)
	item, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, err
	}
	if err != nil {
		return Note{}, fmt.Errorf("update note: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

func (s *PostgresStore) listNotes(ctx context.Context, where, order string, args ...any) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes n
		JOIN boards b ON b.id = n.board_id
		WHERE NOT b.is_soft_deleted AND `+where+`
		ORDER BY `+order,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		item, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListNotesByBoard(ctx context.Context, boardID string) ([]Note, error) {
	return s.listNotes(ctx, `n.board_id = $1`, `n.created_at DESC`, boardID)
}

func (s *PostgresStore) ListNotesByCreator(ctx context.Context, identityID, search string) ([]Note, error) {
	if strings.TrimSpace(search) != "" {
		return s.listNotes(ctx, `n.creator_identity = $1 AND n.content ILIKE $2`,
			`n.created_at DESC`, identityID, "%"+strings.TrimSpace(search)+"%")
	}
	return s.listNotes(ctx, `n.creator_identity = $1`, `n.created_at DESC`, identityID)
}

func (s *PostgresStore) ListNotesUpvotedBy(ctx context.Context, identityID, search string) ([]Note, error) {
	where := `EXISTS (SELECT 1 FROM upvotes u WHERE u.note_id = n.id AND u.voter_identity = $1)`
	if strings.TrimSpace(search) != "" {
		return s.listNotes(ctx, where+` AND n.content ILIKE $2`,
			`n.created_at DESC`, identityID, "%"+strings.TrimSpace(search)+"%")
	}
	return s.listNotes(ctx, where, `n.created_at DESC`, identityID)
}

// ---------------------------------------------------------------------------
// Upvotes

// ToggleUpvote adds or removes a vote by voterIdentity on a note. A newly
// created vote applies the gravity transform to the note's current committed
// position in the same transaction, so concurrent upvotes compose as
// sequential scalings rather than racing on a stale snapshot. Removal leaves
// the position alone.
func (s *PostgresStore) ToggleUpvote(ctx context.Context, noteID, voterIdentity string) (Note, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Note{}, false, fmt.Errorf("begin upvote tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var upvoteID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO upvotes (note_id, voter_identity)
		VALUES ($1, $2)
		ON CONFLICT (note_id, voter_identity) DO NOTHING
		RETURNING id
	`, noteID, voterIdentity).Scan(&upvoteID)
	created := true
	if errors.Is(err, sql.ErrNoRows) {
		created = false
	} else if err != nil {
		return Note{}, false, fmt.Errorf("insert upvote: %w", err)
	}

	var row *sql.Row
	if created {
		row = tx.QueryRowContext(ctx, `
			UPDATE notes n
			SET position_x = position_x * $2, position_y = position_y * $2
			WHERE n.id=$1
			RETURNING `+noteColumns,
			noteID, GravityFactor)
	} else {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM upvotes WHERE note_id=$1 AND voter_identity=$2`,
			noteID, voterIdentity,
		); err != nil {
			return Note{}, false, fmt.Errorf("delete upvote: %w", err)
		}
		row = tx.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes n WHERE n.id=$1`, noteID)
	}

	item, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, false, sql.ErrNoRows
	}
	if err != nil {
		return Note{}, false, fmt.Errorf("scan upvoted note: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Note{}, false, fmt.Errorf("commit upvote tx: %w", err)
	}
	return item, created, nil
}

func (s *PostgresStore) HasUpvote(ctx context.Context, noteID, voterIdentity string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM upvotes WHERE note_id=$1 AND voter_identity=$2)`,
		noteID, voterIdentity,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check upvote: %w", err)
	}
	return exists, nil
}

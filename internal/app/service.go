package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/mail"
	"strings"
	"time"

	"orbit/api/internal/access"
	"orbit/api/internal/account"
	"orbit/api/internal/auth"
	"orbit/api/internal/email"
	"orbit/api/internal/export"
	"orbit/api/internal/identity"
	"orbit/api/internal/realtime"
	"orbit/api/internal/search"
	"orbit/api/internal/store"
	"orbit/api/internal/util"
)

const (
	maxTitleLen   = 120
	maxContentLen = 2000
)

var allowedNoteColors = map[string]struct{}{
	"YELLOW":   {},
	"CREATIVE": {},
	"COOL":     {},
	"FRESH":    {},
	"ROYAL":    {},
}

// Session is an authenticated account session.
type Session struct {
	Token           string
	RefreshToken    string
	AccountID       string
	Email           string
	DisplayName     string
	IsEmailVerified bool
	ExpiresAt       time.Time
}

// Principal is everything a request proved about its sender: an optional
// ghost identity, an optional account, and whatever admin secret it waved.
type Principal struct {
	Identity   *store.Identity
	Account    *store.Account
	AdminToken string
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetAccountByID(ctx context.Context, accountID string) (store.Account, error)

	InsertBoard(ctx context.Context, item store.Board) error
	GetBoard(ctx context.Context, boardID string) (store.Board, error)
	UpdateBoard(ctx context.Context, boardID, title string, isPublic bool) error
	SoftDeleteBoard(ctx context.Context, boardID string) error
	UpdateBoardCreator(ctx context.Context, boardID, identityID string) error
	ListBoardsByClaimedAccount(ctx context.Context, accountID string) ([]store.Board, error)
	ListBoardsByCreatorIdentity(ctx context.Context, identityID string) ([]store.Board, error)
	ListBoardsInvited(ctx context.Context, email string) ([]store.Board, error)

	InsertInvite(ctx context.Context, boardID, email string) error
	DeleteInvite(ctx context.Context, boardID, email string) error
	HasInvite(ctx context.Context, boardID, email string) (bool, error)
	ListInvites(ctx context.Context, boardID string) ([]store.BoardInvite, error)

	InsertNote(ctx context.Context, item store.Note) error
	GetNote(ctx context.Context, noteID string) (store.Note, error)
	UpdateNote(ctx context.Context, noteID string, patch store.NotePatch) (store.Note, error)
	DeleteNote(ctx context.Context, noteID string) error
	ListNotesByBoard(ctx context.Context, boardID string) ([]store.Note, error)
	ListNotesByCreator(ctx context.Context, identityID, search string) ([]store.Note, error)
	ListNotesUpvotedBy(ctx context.Context, identityID, search string) ([]store.Note, error)
	ToggleUpvote(ctx context.Context, noteID, voterIdentity string) (store.Note, bool, error)
	HasUpvote(ctx context.Context, noteID, voterIdentity string) (bool, error)
}

// SessionStore holds refresh sessions. Redis when configured, with the
// Postgres store as the fallback implementation.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, account store.Account, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.Account, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// Config carries the service-level settings.
type Config struct {
	TokenSecret string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	// BaseURL is the public frontend URL used in invite emails.
	BaseURL string
}

type Service struct {
	store    dataStore
	sessions SessionStore
	resolver *identity.Resolver
	accounts *account.Service
	search   *search.Service
	exporter *export.Service
	emitter  *realtime.Emitter
	mailer   *email.Service
	cfg      Config
}

func NewService(
	dataStore dataStore,
	sessions SessionStore,
	resolver *identity.Resolver,
	accounts *account.Service,
	searchSvc *search.Service,
	exporter *export.Service,
	emitter *realtime.Emitter,
	mailer *email.Service,
	cfg Config,
) *Service {
	return &Service{
		store:    dataStore,
		sessions: sessions,
		resolver: resolver,
		accounts: accounts,
		search:   searchSvc,
		exporter: exporter,
		emitter:  emitter,
		mailer:   mailer,
		cfg:      cfg,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---------------------------------------------------------------------------
// Accounts and sessions

func (s *Service) SignUp(ctx context.Context, emailAddr, password, displayName string) (Session, error) {
	created, _, err := s.accounts.SignUp(ctx, emailAddr, password, displayName)
	if errors.Is(err, account.ErrEmailTaken) {
		return Session{}, domainError(409, "EMAIL_TAKEN", "Email is already registered", nil)
	}
	if errors.Is(err, account.ErrInvalidCredentials) {
		return Session{}, errValidation(err.Error(), nil)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, created)
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	found, err := s.accounts.SignIn(ctx, emailAddr, password)
	if errors.Is(err, account.ErrInvalidCredentials) {
		return Session{}, domainError(401, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, found)
}

func (s *Service) VerifyEmail(ctx context.Context, emailAddr, code string) error {
	err := s.accounts.VerifyEmail(ctx, emailAddr, code)
	if errors.Is(err, account.ErrInvalidCode) {
		return errValidation("Invalid or expired verification code", nil)
	}
	return err
}

func (s *Service) ResendVerification(ctx context.Context, emailAddr string) error {
	return s.accounts.ResendCode(ctx, emailAddr)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(401, "UNAUTHORIZED", "Invalid refresh token", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, found)
}

func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, acct store.Account) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   acct.ID,
		Email: acct.Email,
		JTI:   util.NewID("jti"),
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), acct, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:           token,
		RefreshToken:    refresh,
		AccountID:       acct.ID,
		Email:           acct.Email,
		DisplayName:     acct.DisplayName,
		IsEmailVerified: acct.IsEmailVerified,
		ExpiresAt:       expiresAt,
	}, nil
}

// ---------------------------------------------------------------------------
// Principal resolution

// PrincipalFrom turns the request's credentials into a Principal. An invalid
// bearer token is a hard failure; an absent or unknown ghost token is not.
func (s *Service) PrincipalFrom(ctx context.Context, ghostToken, accessToken, adminToken string) (Principal, error) {
	var acct *store.Account
	if accessToken != "" {
		claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), accessToken)
		if err != nil {
			return Principal{}, err
		}
		found, err := s.store.GetAccountByID(ctx, claims.Sub)
		if errors.Is(err, sql.ErrNoRows) {
			return Principal{}, auth.ErrInvalidToken
		}
		if err != nil {
			return Principal{}, err
		}
		acct = &found
	}

	identityCtx, err := s.resolver.AuthContext(ctx, ghostToken, acct)
	if err != nil {
		return Principal{}, err
	}

	return Principal{
		Identity:   identityCtx.Identity,
		Account:    identityCtx.Account,
		AdminToken: strings.TrimSpace(adminToken),
	}, nil
}

// MintIdentity creates a fresh ghost identity and returns its token.
func (s *Service) MintIdentity(ctx context.Context) (store.Identity, error) {
	return s.resolver.Mint(ctx)
}

// ClaimIdentity links a ghost token's identity and its entire history to the
// authenticated account.
func (s *Service) ClaimIdentity(ctx context.Context, p Principal, ghostToken string) (store.Identity, error) {
	if p.Account == nil {
		return store.Identity{}, domainError(401, "UNAUTHORIZED", "Claiming requires a signed-in account", nil)
	}
	claimed, err := s.resolver.Claim(ctx, ghostToken, p.Account.ID)
	switch {
	case errors.Is(err, identity.ErrAlreadyClaimed):
		return store.Identity{}, errIdentityConflict()
	case errors.Is(err, identity.ErrExpired):
		return store.Identity{}, errExpiredIdentity()
	case errors.Is(err, identity.ErrInvalidToken):
		return store.Identity{}, errValidation("Invalid ghost token", nil)
	case err != nil:
		return store.Identity{}, err
	}
	return claimed, nil
}

// requireIdentity returns the principal's identity, minting one when the
// request arrived with no usable ghost token. The caller surfaces the minted
// token so the client can persist it.
func (s *Service) requireIdentity(ctx context.Context, p *Principal) (store.Identity, bool, error) {
	if p.Identity != nil {
		return *p.Identity, false, nil
	}
	minted, err := s.resolver.Mint(ctx)
	if err != nil {
		return store.Identity{}, false, err
	}
	p.Identity = &minted
	return minted, true, nil
}

// accessContext flattens a principal against a board for the evaluator.
func (s *Service) accessContext(ctx context.Context, p Principal, board store.Board) (access.Context, error) {
	actx := access.Context{AdminToken: p.AdminToken}
	if p.Identity != nil {
		actx.IdentityID = p.Identity.ID
	}
	if p.Account != nil {
		actx.AccountID = p.Account.ID
		if p.Account.IsEmailVerified {
			actx.AccountEmail = p.Account.Email
		}
	}
	if actx.AccountEmail != "" && !board.IsPublic {
		has, err := s.store.HasInvite(ctx, board.ID, actx.AccountEmail)
		if err != nil {
			return access.Context{}, err
		}
		actx.HasInvite = has
	}
	return actx, nil
}

func accessBoard(board store.Board) access.Board {
	return access.Board{
		ID:               board.ID,
		IsPublic:         board.IsPublic,
		SecretAdminToken: board.SecretAdminToken,
		CreatorIdentity:  board.CreatorIdentity,
		CreatorClaimedBy: board.CreatorClaimedBy,
	}
}

func accessNote(note store.Note) *access.Note {
	return &access.Note{ID: note.ID, CreatorIdentity: note.CreatorIdentity}
}

// presentedAdminSecret reports whether the request carried the board's exact
// admin secret. Only those callers get the secret echoed back; admin rights
// earned through a claimed account never reveal it.
func presentedAdminSecret(p Principal, board store.Board) bool {
	return p.AdminToken != "" && strings.EqualFold(p.AdminToken, board.SecretAdminToken)
}

// authorize runs the evaluator and converts a denial into a domain error.
func (s *Service) authorize(ctx context.Context, p Principal, board store.Board, note *store.Note, action access.Action, fields []string) error {
	actx, err := s.accessContext(ctx, p, board)
	if err != nil {
		return err
	}
	var target *access.Note
	if note != nil {
		target = accessNote(*note)
	}
	decision := access.Evaluate(actx, accessBoard(board), target, action, fields)
	if !decision.Allowed {
		return errPermission(decision.Reason)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Boards

type CreateBoardInput struct {
	Title    string `json:"title"`
	IsPublic *bool  `json:"isPublic"`
}

type UpdateBoardInput struct {
	Title    *string `json:"title"`
	IsPublic *bool   `json:"isPublic"`
}

// CreateBoardResult returns the new board plus the credentials the creator
// must keep: the admin secret, and the ghost token if one was minted.
type CreateBoardResult struct {
	Board            store.Board
	AdminToken       string
	MintedGhostToken string
}

func (s *Service) CreateBoard(ctx context.Context, p Principal, input CreateBoardInput) (CreateBoardResult, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Untitled Board"
	}
	if len(title) > maxTitleLen {
		return CreateBoardResult{}, errValidation("Title is too long", map[string]any{"maxLength": maxTitleLen})
	}

	creator, minted, err := s.requireIdentity(ctx, &p)
	if err != nil {
		return CreateBoardResult{}, err
	}

	board := store.Board{
		ID:               util.NewID("brd"),
		Title:            title,
		IsPublic:         input.IsPublic == nil || *input.IsPublic,
		SecretAdminToken: util.NewToken(),
		CreatorIdentity:  creator.ID,
		CreatorClaimedBy: creator.ClaimedBy,
	}
	if err := s.store.InsertBoard(ctx, board); err != nil {
		return CreateBoardResult{}, err
	}

	s.indexBoard(ctx, board)

	result := CreateBoardResult{Board: board, AdminToken: board.SecretAdminToken}
	if minted {
		result.MintedGhostToken = creator.Token
	}
	return result, nil
}

// GetBoard returns the board after a read access check. The admin secret is
// shown in full only at creation; afterwards it is echoed back solely to
// callers who presented it.
func (s *Service) GetBoard(ctx context.Context, p Principal, boardID string) (store.Board, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Board{}, errNotFound("Board not found")
	}
	if err != nil {
		return store.Board{}, err
	}

	if err := s.authorize(ctx, p, board, nil, access.ActionRead, nil); err != nil {
		return store.Board{}, err
	}

	if !presentedAdminSecret(p, board) {
		board.SecretAdminToken = ""
	}
	return board, nil
}

func (s *Service) ListBoardNotes(ctx context.Context, p Principal, boardID string) ([]NoteView, error) {
	if _, err := s.GetBoard(ctx, p, boardID); err != nil {
		return nil, err
	}
	notes, err := s.store.ListNotesByBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return s.noteViews(ctx, p, notes)
}

func (s *Service) UpdateBoard(ctx context.Context, p Principal, boardID string, input UpdateBoardInput) (store.Board, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Board{}, errNotFound("Board not found")
	}
	if err != nil {
		return store.Board{}, err
	}

	if err := s.authorize(ctx, p, board, nil, access.ActionAdmin, nil); err != nil {
		return store.Board{}, err
	}

	title := board.Title
	if input.Title != nil {
		title = strings.TrimSpace(*input.Title)
		if title == "" {
			return store.Board{}, errValidation("Title cannot be empty", nil)
		}
		if len(title) > maxTitleLen {
			return store.Board{}, errValidation("Title is too long", map[string]any{"maxLength": maxTitleLen})
		}
	}
	isPublic := board.IsPublic
	if input.IsPublic != nil {
		isPublic = *input.IsPublic
	}

	if err := s.store.UpdateBoard(ctx, boardID, title, isPublic); err != nil {
		return store.Board{}, err
	}
	board.Title = title
	board.IsPublic = isPublic

	s.emit(ctx, board.ID, realtime.EventBoardUpdated, map[string]any{
		"id":       board.ID,
		"title":    board.Title,
		"isPublic": board.IsPublic,
	})
	s.indexBoard(ctx, board)

	if !presentedAdminSecret(p, board) {
		board.SecretAdminToken = ""
	}
	return board, nil
}

func (s *Service) DeleteBoard(ctx context.Context, p Principal, boardID string) error {
	board, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Board not found")
	}
	if err != nil {
		return err
	}

	if err := s.authorize(ctx, p, board, nil, access.ActionAdmin, nil); err != nil {
		return err
	}

	if err := s.store.SoftDeleteBoard(ctx, boardID); err != nil {
		return err
	}

	s.emit(ctx, board.ID, realtime.EventBoardUpdated, map[string]any{
		"id":      board.ID,
		"deleted": true,
	})
	if s.search != nil {
		s.search.DeleteBoard(board.ID)
	}
	return nil
}

// ClaimBoard reassigns a board to the caller's identity. It is how the admin
// secret moves a board to a new browser: present the secret, walk away owning
// the board under your own ghost token.
func (s *Service) ClaimBoard(ctx context.Context, p Principal, boardID string) (store.Board, string, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Board{}, "", errNotFound("Board not found")
	}
	if err != nil {
		return store.Board{}, "", err
	}

	if !presentedAdminSecret(p, board) {
		return store.Board{}, "", errPermission(access.ReasonPrivateBoardNoAccess)
	}

	claimer, minted, err := s.requireIdentity(ctx, &p)
	if err != nil {
		return store.Board{}, "", err
	}

	if err := s.store.UpdateBoardCreator(ctx, boardID, claimer.ID); err != nil {
		return store.Board{}, "", err
	}
	board.CreatorIdentity = claimer.ID
	board.CreatorClaimedBy = claimer.ClaimedBy

	mintedToken := ""
	if minted {
		mintedToken = claimer.Token
	}
	return board, mintedToken, nil
}

// Discover serves the public gallery.
func (s *Service) Discover(ctx context.Context, query, sort string, limit, offset int) (search.Response, error) {
	if sort == "" {
		sort = search.SortRecent
	}
	if sort != search.SortRecent && sort != search.SortPopular {
		return search.Response{}, errValidation("Sort must be recent or popular", nil)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}, nil
	}
	return s.search.Search(search.Query{Text: query, Sort: sort, Limit: limit, Offset: offset}), nil
}

// MyBoards lists boards whose creating identity the account has claimed.
func (s *Service) MyBoards(ctx context.Context, p Principal) ([]store.Board, error) {
	if p.Account == nil {
		return nil, domainError(401, "UNAUTHORIZED", "Sign in to list your boards", nil)
	}
	return s.store.ListBoardsByClaimedAccount(ctx, p.Account.ID)
}

// History lists boards created under the caller's ghost identity.
func (s *Service) History(ctx context.Context, p Principal) ([]store.Board, error) {
	if p.Identity == nil {
		return []store.Board{}, nil
	}
	return s.store.ListBoardsByCreatorIdentity(ctx, p.Identity.ID)
}

// InvitedBoards lists private boards the account's verified email is invited to.
func (s *Service) InvitedBoards(ctx context.Context, p Principal) ([]store.Board, error) {
	if p.Account == nil {
		return nil, domainError(401, "UNAUTHORIZED", "Sign in to list invited boards", nil)
	}
	if !p.Account.IsEmailVerified {
		return []store.Board{}, nil
	}
	return s.store.ListBoardsInvited(ctx, p.Account.Email)
}

// Permissions reports what the caller could do on a board, for UI gating.
func (s *Service) Permissions(ctx context.Context, p Principal, boardID string) (map[string]bool, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("Board not found")
	}
	if err != nil {
		return nil, err
	}

	actx, err := s.accessContext(ctx, p, board)
	if err != nil {
		return nil, err
	}
	target := accessBoard(board)
	return map[string]bool{
		"canRead":  access.Evaluate(actx, target, nil, access.ActionRead, nil).Allowed,
		"canWrite": access.Evaluate(actx, target, nil, access.ActionWrite, nil).Allowed,
		"canAdmin": access.Evaluate(actx, target, nil, access.ActionAdmin, nil).Allowed,
	}, nil
}

// ---------------------------------------------------------------------------
// Invites

func (s *Service) InviteToBoard(ctx context.Context, p Principal, boardID, emailAddr string) error {
	board, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Board not found")
	}
	if err != nil {
		return err
	}

	if err := s.authorize(ctx, p, board, nil, access.ActionAdmin, nil); err != nil {
		return err
	}

	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if _, err := mail.ParseAddress(emailAddr); err != nil {
		return errValidation("Invalid email address", nil)
	}

	if err := s.store.InsertInvite(ctx, boardID, emailAddr); err != nil {
		return err
	}

	if s.mailer != nil && s.mailer.IsConfigured() {
		boardURL := strings.TrimRight(s.cfg.BaseURL, "/") + "/boards/" + board.ID
		if err := s.mailer.SendBoardInvite(emailAddr, board.Title, boardURL); err != nil {
			log.Printf("app: send invite email for board %s: %v", board.ID, err)
		}
	}
	return nil
}

func (s *Service) RevokeInvite(ctx context.Context, p Principal, boardID, emailAddr string) error {
	board, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Board not found")
	}
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, p, board, nil, access.ActionAdmin, nil); err != nil {
		return err
	}
	return s.store.DeleteInvite(ctx, boardID, strings.ToLower(strings.TrimSpace(emailAddr)))
}

func (s *Service) ListInvites(ctx context.Context, p Principal, boardID string) ([]store.BoardInvite, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("Board not found")
	}
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, p, board, nil, access.ActionAdmin, nil); err != nil {
		return nil, err
	}
	return s.store.ListInvites(ctx, boardID)
}

// ---------------------------------------------------------------------------
// Notes

type CreateNoteInput struct {
	Content   string  `json:"content"`
	Color     string  `json:"color"`
	PositionX float64 `json:"positionX"`
	PositionY float64 `json:"positionY"`
	// Notes are anonymous unless the author opts out.
	IsAnonymousToPublic *bool `json:"isAnonymousToPublic"`
}

type UpdateNoteInput struct {
	Content             *string  `json:"content"`
	Color               *string  `json:"color"`
	PositionX           *float64 `json:"positionX"`
	PositionY           *float64 `json:"positionY"`
	IsAnonymousToPublic *bool    `json:"isAnonymousToPublic"`
}

// NoteView is a note as presented to one viewer: the stored note plus the
// authorship presentation that viewer is allowed to see.
type NoteView struct {
	store.Note
	IsAuthor    bool
	IsUpvoted   bool
	AuthorLabel string
}

// CreateNoteResult carries the note plus the minted ghost token for
// first-contact anonymous authors.
type CreateNoteResult struct {
	Note             NoteView
	MintedGhostToken string
}

// authorLabel renders who wrote the note. Anonymous notes (the default) show a
// short hash of the note id; a signed note by the board's creator is labeled
// as the admin, with the claimed account's display name when there is one.
// A signed note by anyone else falls back to the anonymous label.
func authorLabel(note store.Note, board store.Board, ownerName string) string {
	if !note.IsAnonymousToPublic && note.CreatorIdentity == board.CreatorIdentity {
		if ownerName != "" {
			return "ADMIN (" + ownerName + ")"
		}
		return "ADMIN"
	}
	return anonymousLabel(note.ID)
}

func anonymousLabel(noteID string) string {
	short := strings.TrimPrefix(noteID, "not_")
	if len(short) > 4 {
		short = short[:4]
	}
	return "#" + short
}

// noteViews decorates notes with the viewer-relative authorship fields.
func (s *Service) noteViews(ctx context.Context, p Principal, notes []store.Note) ([]NoteView, error) {
	viewerID := ""
	if p.Identity != nil {
		viewerID = p.Identity.ID
	}

	upvoted := map[string]bool{}
	if viewerID != "" {
		mine, err := s.store.ListNotesUpvotedBy(ctx, viewerID, "")
		if err != nil {
			return nil, err
		}
		for _, item := range mine {
			upvoted[item.ID] = true
		}
	}

	boards := map[string]store.Board{}
	owners := map[string]string{}
	views := make([]NoteView, 0, len(notes))
	for _, note := range notes {
		board, seen := boards[note.BoardID]
		if !seen {
			found, err := s.store.GetBoard(ctx, note.BoardID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return nil, err
			}
			board = found
			boards[note.BoardID] = board

			ownerName := ""
			if board.CreatorClaimedBy != "" {
				if acct, err := s.store.GetAccountByID(ctx, board.CreatorClaimedBy); err == nil {
					ownerName = acct.DisplayName
				}
			}
			owners[note.BoardID] = ownerName
		}

		views = append(views, NoteView{
			Note:        note,
			IsAuthor:    viewerID != "" && note.CreatorIdentity == viewerID,
			IsUpvoted:   upvoted[note.ID],
			AuthorLabel: authorLabel(note, board, owners[note.BoardID]),
		})
	}
	return views, nil
}

func (s *Service) noteView(ctx context.Context, p Principal, note store.Note) (NoteView, error) {
	views, err := s.noteViews(ctx, p, []store.Note{note})
	if err != nil {
		return NoteView{}, err
	}
	return views[0], nil
}

func (s *Service) CreateNote(ctx context.Context, p Principal, boardID string, input CreateNoteInput) (CreateNoteResult, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return CreateNoteResult{}, errNotFound("Board not found")
	}
	if err != nil {
		return CreateNoteResult{}, err
	}

	content := strings.TrimSpace(input.Content)
	if content == "" {
		return CreateNoteResult{}, errValidation("Note content is required", nil)
	}
	if len(content) > maxContentLen {
		return CreateNoteResult{}, errValidation("Note content is too long", map[string]any{"maxLength": maxContentLen})
	}
	color := input.Color
	if color == "" {
		color = "YELLOW"
	}
	if _, ok := allowedNoteColors[color]; !ok {
		return CreateNoteResult{}, errValidation("Unknown note color", map[string]any{"color": color})
	}

	if err := s.authorize(ctx, p, board, nil, access.ActionWrite, nil); err != nil {
		return CreateNoteResult{}, err
	}

	author, minted, err := s.requireIdentity(ctx, &p)
	if err != nil {
		return CreateNoteResult{}, err
	}

	note := store.Note{
		ID:                  util.NewID("not"),
		BoardID:             board.ID,
		CreatorIdentity:     author.ID,
		Content:             content,
		Color:               color,
		PositionX:           input.PositionX,
		PositionY:           input.PositionY,
		IsAnonymousToPublic: input.IsAnonymousToPublic == nil || *input.IsAnonymousToPublic,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return CreateNoteResult{}, err
	}

	s.emit(ctx, board.ID, realtime.EventNoteCreated, noteEventPayload(note))
	s.indexBoard(ctx, board)

	view, err := s.noteView(ctx, p, note)
	if err != nil {
		return CreateNoteResult{}, err
	}
	result := CreateNoteResult{Note: view}
	if minted {
		result.MintedGhostToken = author.Token
	}
	return result, nil
}

func (s *Service) UpdateNote(ctx context.Context, p Principal, noteID string, input UpdateNoteInput) (NoteView, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return NoteView{}, errNotFound("Note not found")
	}
	if err != nil {
		return NoteView{}, err
	}
	board, err := s.store.GetBoard(ctx, note.BoardID)
	if err != nil {
		return NoteView{}, err
	}

	if input.Content != nil {
		trimmed := strings.TrimSpace(*input.Content)
		if trimmed == "" {
			return NoteView{}, errValidation("Note content cannot be empty", nil)
		}
		if len(trimmed) > maxContentLen {
			return NoteView{}, errValidation("Note content is too long", map[string]any{"maxLength": maxContentLen})
		}
		input.Content = &trimmed
	}
	if input.Color != nil {
		if _, ok := allowedNoteColors[*input.Color]; !ok {
			return NoteView{}, errValidation("Unknown note color", map[string]any{"color": *input.Color})
		}
	}

	patch := store.NotePatch{
		PositionX:           input.PositionX,
		PositionY:           input.PositionY,
		Content:             input.Content,
		Color:               input.Color,
		IsAnonymousToPublic: input.IsAnonymousToPublic,
	}

	// The field set drives the decision: admins pass only when every touched
	// field is one they may curate.
	if err := s.authorize(ctx, p, board, &note, access.ActionWrite, patch.Fields()); err != nil {
		return NoteView{}, err
	}

	updated, err := s.store.UpdateNote(ctx, noteID, patch)
	if err != nil {
		return NoteView{}, err
	}

	s.emit(ctx, board.ID, realtime.EventNoteUpdated, noteEventPayload(updated))
	if input.Content != nil {
		s.indexBoard(ctx, board)
	}
	return s.noteView(ctx, p, updated)
}

func (s *Service) DeleteNote(ctx context.Context, p Principal, noteID string) error {
	note, err := s.store.GetNote(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Note not found")
	}
	if err != nil {
		return err
	}
	board, err := s.store.GetBoard(ctx, note.BoardID)
	if err != nil {
		return err
	}

	// Deletion touches every field, so an admin's layout-only privilege never
	// reaches someone else's note.
	if err := s.authorize(ctx, p, board, &note, access.ActionWrite, access.NoteFields); err != nil {
		return err
	}

	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		return err
	}

	s.emit(ctx, board.ID, realtime.EventNoteDeleted, map[string]any{
		"id":      note.ID,
		"boardId": board.ID,
	})
	s.indexBoard(ctx, board)
	return nil
}

// ToggleUpvote flips the caller's upvote on a note. A created upvote pulls the
// note toward the origin; removing the upvote leaves the position where
// gravity took it.
func (s *Service) ToggleUpvote(ctx context.Context, p Principal, noteID string) (NoteView, bool, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return NoteView{}, false, errNotFound("Note not found")
	}
	if err != nil {
		return NoteView{}, false, err
	}
	board, err := s.store.GetBoard(ctx, note.BoardID)
	if err != nil {
		return NoteView{}, false, err
	}

	if err := s.authorize(ctx, p, board, nil, access.ActionRead, nil); err != nil {
		return NoteView{}, false, err
	}

	voter, _, err := s.requireIdentity(ctx, &p)
	if err != nil {
		return NoteView{}, false, err
	}
	if note.CreatorIdentity == voter.ID {
		return NoteView{}, false, errValidation("You cannot upvote your own note", nil)
	}

	updated, created, err := s.store.ToggleUpvote(ctx, noteID, voter.ID)
	if err != nil {
		return NoteView{}, false, err
	}

	s.emit(ctx, board.ID, realtime.EventNoteUpdated, noteEventPayload(updated))

	view, err := s.noteView(ctx, p, updated)
	if err != nil {
		return NoteView{}, false, err
	}
	return view, created, nil
}

// HasUpvoted reports whether the caller has an upvote on the note, for
// rendering the toggle state.
func (s *Service) HasUpvoted(ctx context.Context, p Principal, noteID string) (bool, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errNotFound("Note not found")
	}
	if err != nil {
		return false, err
	}
	board, err := s.store.GetBoard(ctx, note.BoardID)
	if err != nil {
		return false, err
	}
	if err := s.authorize(ctx, p, board, nil, access.ActionRead, nil); err != nil {
		return false, err
	}
	if p.Identity == nil {
		return false, nil
	}
	return s.store.HasUpvote(ctx, noteID, p.Identity.ID)
}

// MyNotes lists notes authored under the caller's ghost identity.
func (s *Service) MyNotes(ctx context.Context, p Principal, query string) ([]NoteView, error) {
	if p.Identity == nil {
		return []NoteView{}, nil
	}
	notes, err := s.store.ListNotesByCreator(ctx, p.Identity.ID, query)
	if err != nil {
		return nil, err
	}
	return s.noteViews(ctx, p, notes)
}

// UpvotedNotes lists notes the caller has upvoted.
func (s *Service) UpvotedNotes(ctx context.Context, p Principal, query string) ([]NoteView, error) {
	if p.Identity == nil {
		return []NoteView{}, nil
	}
	notes, err := s.store.ListNotesUpvotedBy(ctx, p.Identity.ID, query)
	if err != nil {
		return nil, err
	}
	return s.noteViews(ctx, p, notes)
}

// ---------------------------------------------------------------------------
// Export and realtime

// ExportBoardPDF renders the board to PDF after a read access check.
func (s *Service) ExportBoardPDF(ctx context.Context, p Principal, boardID string) (*export.Result, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("Board not found")
	}
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, p, board, nil, access.ActionRead, nil); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(503, "EXPORT_UNAVAILABLE", "PDF export is not configured", nil)
	}
	return s.exporter.ExportBoardPDF(ctx, boardID)
}

// AuthorizeStream checks read access for a realtime subscription.
func (s *Service) AuthorizeStream(ctx context.Context, p Principal, boardID string) error {
	board, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Board not found")
	}
	if err != nil {
		return err
	}
	return s.authorize(ctx, p, board, nil, access.ActionRead, nil)
}

// emit publishes a board event. Emission is decoupled from the committed
// write: a dead broker costs realtime updates, never the write itself.
func (s *Service) emit(ctx context.Context, boardID, eventType string, payload any) {
	s.emitter.Emit(ctx, boardID, realtime.Event{Type: eventType, Payload: payload})
}

func (s *Service) indexBoard(ctx context.Context, board store.Board) {
	if s.search != nil {
		s.search.IndexBoard(ctx, board)
	}
}

func noteEventPayload(note store.Note) map[string]any {
	return map[string]any{
		"id":                  note.ID,
		"boardId":             note.BoardID,
		"content":             note.Content,
		"color":               note.Color,
		"positionX":           note.PositionX,
		"positionY":           note.PositionY,
		"isAnonymousToPublic": note.IsAnonymousToPublic,
		"upvoteCount":         note.UpvoteCount,
		"createdAt":           note.CreatedAt,
	}
}

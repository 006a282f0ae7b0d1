package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"orbit/api/internal/identity"
	"orbit/api/internal/realtime"
	"orbit/api/internal/store"
)

// fakeStore is an in-memory stand-in for the Postgres store. It mirrors the
// real store's semantics closely enough to exercise the service: upvote
// creation applies the gravity factor, toggling off does not restore position,
// and lookups miss with sql.ErrNoRows. The mutation counter lets tests assert
// that denied requests leave storage untouched.
type fakeStore struct {
	mu        sync.Mutex
	boards    map[string]*store.Board
	notes     map[string]*store.Note
	invites   map[string]map[string]bool
	upvotes   map[string]map[string]bool
	accounts  map[string]*store.Account
	byToken   map[string]*store.Identity
	nextID    int
	mutations int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		boards:   map[string]*store.Board{},
		notes:    map[string]*store.Note{},
		invites:  map[string]map[string]bool{},
		upvotes:  map[string]map[string]bool{},
		accounts: map[string]*store.Account{},
		byToken:  map[string]*store.Identity{},
	}
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) GetAccountByID(ctx context.Context, accountID string) (store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct, ok := f.accounts[accountID]; ok {
		return *acct, nil
	}
	return store.Account{}, sql.ErrNoRows
}

func (f *fakeStore) InsertBoard(ctx context.Context, item store.Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	copied := item
	f.boards[item.ID] = &copied
	return nil
}

func (f *fakeStore) GetBoard(ctx context.Context, boardID string) (store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if board, ok := f.boards[boardID]; ok && !board.IsSoftDeleted {
		return *board, nil
	}
	return store.Board{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateBoard(ctx context.Context, boardID, title string, isPublic bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	board, ok := f.boards[boardID]
	if !ok {
		return sql.ErrNoRows
	}
	board.Title = title
	board.IsPublic = isPublic
	return nil
}

func (f *fakeStore) SoftDeleteBoard(ctx context.Context, boardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	if board, ok := f.boards[boardID]; ok {
		board.IsSoftDeleted = true
	}
	return nil
}

func (f *fakeStore) UpdateBoardCreator(ctx context.Context, boardID, identityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	board, ok := f.boards[boardID]
	if !ok {
		return sql.ErrNoRows
	}
	board.CreatorIdentity = identityID
	return nil
}

func (f *fakeStore) ListBoardsByClaimedAccount(ctx context.Context, accountID string) ([]store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Board{}
	for _, board := range f.boards {
		if board.CreatorClaimedBy == accountID && !board.IsSoftDeleted {
			out = append(out, *board)
		}
	}
	return out, nil
}

func (f *fakeStore) ListBoardsByCreatorIdentity(ctx context.Context, identityID string) ([]store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Board{}
	for _, board := range f.boards {
		if board.CreatorIdentity == identityID && !board.IsSoftDeleted {
			out = append(out, *board)
		}
	}
	return out, nil
}

func (f *fakeStore) ListBoardsInvited(ctx context.Context, emailAddr string) ([]store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Board{}
	for boardID, members := range f.invites {
		if members[emailAddr] {
			if board, ok := f.boards[boardID]; ok && !board.IsSoftDeleted {
				out = append(out, *board)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) InsertInvite(ctx context.Context, boardID, emailAddr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	if f.invites[boardID] == nil {
		f.invites[boardID] = map[string]bool{}
	}
	f.invites[boardID][emailAddr] = true
	return nil
}

func (f *fakeStore) DeleteInvite(ctx context.Context, boardID, emailAddr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	delete(f.invites[boardID], emailAddr)
	return nil
}

func (f *fakeStore) HasInvite(ctx context.Context, boardID, emailAddr string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invites[boardID][emailAddr], nil
}

func (f *fakeStore) ListInvites(ctx context.Context, boardID string) ([]store.BoardInvite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.BoardInvite{}
	for emailAddr := range f.invites[boardID] {
		out = append(out, store.BoardInvite{BoardID: boardID, Email: emailAddr})
	}
	return out, nil
}

func (f *fakeStore) InsertNote(ctx context.Context, item store.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	copied := item
	f.notes[item.ID] = &copied
	return nil
}

func (f *fakeStore) GetNote(ctx context.Context, noteID string) (store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if note, ok := f.notes[noteID]; ok {
		return *note, nil
	}
	return store.Note{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateNote(ctx context.Context, noteID string, patch store.NotePatch) (store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	note, ok := f.notes[noteID]
	if !ok {
		return store.Note{}, sql.ErrNoRows
	}
	if patch.PositionX != nil {
		note.PositionX = *patch.PositionX
	}
	if patch.PositionY != nil {
		note.PositionY = *patch.PositionY
	}
	if patch.Content != nil {
		note.Content = *patch.Content
	}
	if patch.Color != nil {
		note.Color = *patch.Color
	}
	if patch.IsAnonymousToPublic != nil {
		note.IsAnonymousToPublic = *patch.IsAnonymousToPublic
	}
	return *note, nil
}

func (f *fakeStore) DeleteNote(ctx context.Context, noteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	delete(f.notes, noteID)
	return nil
}

func (f *fakeStore) ListNotesByBoard(ctx context.Context, boardID string) ([]store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Note{}
	for _, note := range f.notes {
		if note.BoardID == boardID {
			out = append(out, *note)
		}
	}
	return out, nil
}

func (f *fakeStore) ListNotesByCreator(ctx context.Context, identityID, search string) ([]store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Note{}
	for _, note := range f.notes {
		if note.CreatorIdentity == identityID {
			out = append(out, *note)
		}
	}
	return out, nil
}

func (f *fakeStore) ListNotesUpvotedBy(ctx context.Context, identityID, search string) ([]store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Note{}
	for noteID, voters := range f.upvotes {
		if voters[identityID] {
			if note, ok := f.notes[noteID]; ok {
				out = append(out, *note)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ToggleUpvote(ctx context.Context, noteID, voterIdentity string) (store.Note, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	note, ok := f.notes[noteID]
	if !ok {
		return store.Note{}, false, sql.ErrNoRows
	}
	if f.upvotes[noteID] == nil {
		f.upvotes[noteID] = map[string]bool{}
	}
	if f.upvotes[noteID][voterIdentity] {
		delete(f.upvotes[noteID], voterIdentity)
		note.UpvoteCount--
		return *note, false, nil
	}
	f.upvotes[noteID][voterIdentity] = true
	note.UpvoteCount++
	note.PositionX *= store.GravityFactor
	note.PositionY *= store.GravityFactor
	return *note, true, nil
}

func (f *fakeStore) HasUpvote(ctx context.Context, noteID, voterIdentity string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upvotes[noteID][voterIdentity], nil
}

// identityStore methods, so the same fake backs the resolver.

func (f *fakeStore) InsertIdentity(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byToken[token]; ok {
		return nil
	}
	f.nextID++
	f.byToken[token] = &store.Identity{
		ID:    fmt.Sprintf("gho_%d", f.nextID),
		Token: token,
		State: "active",
	}
	return nil
}

func (f *fakeStore) GetActiveIdentityByToken(ctx context.Context, token string) (store.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ident, ok := f.byToken[token]; ok {
		return *ident, nil
	}
	return store.Identity{}, sql.ErrNoRows
}

func (f *fakeStore) TokenWasSoftDeleted(ctx context.Context, token string) (bool, error) {
	return false, nil
}

func (f *fakeStore) ClaimIdentity(ctx context.Context, identityID, accountID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ident := range f.byToken {
		if ident.ID == identityID {
			ident.ClaimedBy = accountID
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutations
}

func newTestService(fs *fakeStore) *Service {
	return NewService(
		fs,
		nil,
		identity.NewResolver(fs),
		nil,
		nil,
		nil,
		nil,
		nil,
		Config{TokenSecret: "test-secret"},
	)
}

func seedBoard(fs *fakeStore, board store.Board) store.Board {
	copied := board
	fs.boards[board.ID] = &copied
	return board
}

func seedNote(fs *fakeStore, note store.Note) store.Note {
	copied := note
	fs.notes[note.ID] = &copied
	return note
}

func seedIdentity(fs *fakeStore, id, token string) store.Identity {
	ident := store.Identity{ID: id, Token: token, State: "active"}
	fs.byToken[token] = &ident
	return ident
}

func principalFor(ident store.Identity) Principal {
	return Principal{Identity: &ident}
}

func assertPermissionDenied(t *testing.T, err error) *DomainError {
	t.Helper()
	var derr *DomainError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v, want *DomainError", err)
	}
	if derr.Code != "PERMISSION_DENIED" {
		t.Fatalf("error code = %q, want PERMISSION_DENIED", derr.Code)
	}
	return derr
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestUpvoteGravityCompounds(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedBoard(fs, store.Board{ID: "brd_1", IsPublic: true, CreatorIdentity: "gho_author"})
	seedNote(fs, store.Note{ID: "not_1", BoardID: "brd_1", CreatorIdentity: "gho_author", Content: "hi", PositionX: 200, PositionY: 100})
	voterA := seedIdentity(fs, "gho_a", "tok-a")
	voterB := seedIdentity(fs, "gho_b", "tok-b")

	first, created, err := svc.ToggleUpvote(ctx, principalFor(voterA), "not_1")
	if err != nil {
		t.Fatalf("first ToggleUpvote() error = %v", err)
	}
	if !created {
		t.Fatal("first ToggleUpvote() created = false, want true")
	}
	if !almostEqual(first.PositionX, 190) || !almostEqual(first.PositionY, 95) {
		t.Fatalf("after one upvote position = (%v, %v), want (190, 95)", first.PositionX, first.PositionY)
	}

	second, created, err := svc.ToggleUpvote(ctx, principalFor(voterB), "not_1")
	if err != nil {
		t.Fatalf("second ToggleUpvote() error = %v", err)
	}
	if !created {
		t.Fatal("second ToggleUpvote() created = false, want true")
	}
	if !almostEqual(second.PositionX, 180.5) || !almostEqual(second.PositionY, 90.25) {
		t.Fatalf("after two upvotes position = (%v, %v), want (180.5, 90.25)", second.PositionX, second.PositionY)
	}
	if second.UpvoteCount != 2 {
		t.Errorf("upvote count = %d, want 2", second.UpvoteCount)
	}
}

func TestUpvoteToggleOffKeepsPosition(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedBoard(fs, store.Board{ID: "brd_1", IsPublic: true, CreatorIdentity: "gho_author"})
	seedNote(fs, store.Note{ID: "not_1", BoardID: "brd_1", CreatorIdentity: "gho_author", Content: "hi", PositionX: 200, PositionY: 100})
	voter := seedIdentity(fs, "gho_a", "tok-a")

	if _, _, err := svc.ToggleUpvote(ctx, principalFor(voter), "not_1"); err != nil {
		t.Fatalf("ToggleUpvote() error = %v", err)
	}
	removed, created, err := svc.ToggleUpvote(ctx, principalFor(voter), "not_1")
	if err != nil {
		t.Fatalf("second ToggleUpvote() error = %v", err)
	}
	if created {
		t.Fatal("second ToggleUpvote() created = true, want false")
	}
	// Gravity is not undone when the vote is withdrawn.
	if !almostEqual(removed.PositionX, 190) || !almostEqual(removed.PositionY, 95) {
		t.Errorf("after toggle off position = (%v, %v), want (190, 95)", removed.PositionX, removed.PositionY)
	}
	if removed.UpvoteCount != 0 {
		t.Errorf("upvote count = %d, want 0", removed.UpvoteCount)
	}

	upvoted, err := svc.HasUpvoted(ctx, principalFor(voter), "not_1")
	if err != nil {
		t.Fatalf("HasUpvoted() error = %v", err)
	}
	if upvoted {
		t.Error("HasUpvoted() = true after toggling off")
	}
}

func TestSelfUpvoteRejected(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedBoard(fs, store.Board{ID: "brd_1", IsPublic: true, CreatorIdentity: "gho_author"})
	seedNote(fs, store.Note{ID: "not_1", BoardID: "brd_1", CreatorIdentity: "gho_author", Content: "hi", PositionX: 200})
	author := seedIdentity(fs, "gho_author", "tok-author")

	before := fs.mutationCount()
	_, _, err := svc.ToggleUpvote(ctx, principalFor(author), "not_1")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Code != "VALIDATION_ERROR" {
		t.Fatalf("ToggleUpvote() error = %v, want VALIDATION_ERROR", err)
	}
	if fs.mutationCount() != before {
		t.Error("rejected self-upvote mutated the store")
	}
	if note := fs.notes["not_1"]; note.PositionX != 200 {
		t.Errorf("position = %v, want untouched 200", note.PositionX)
	}
}

func TestCreateBoardMintsIdentityForFirstContact(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	result, err := svc.CreateBoard(ctx, Principal{}, CreateBoardInput{Title: "Retro"})
	if err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}
	if result.MintedGhostToken == "" {
		t.Error("MintedGhostToken is empty for an anonymous creator")
	}
	if result.AdminToken == "" {
		t.Error("AdminToken is empty")
	}
	if result.Board.CreatorIdentity == "" {
		t.Error("board has no creator identity")
	}
	if !result.Board.IsPublic {
		t.Error("boards default to public")
	}

	// A caller arriving with an identity gets no new token.
	ident := seedIdentity(fs, "gho_known", "tok-known")
	again, err := svc.CreateBoard(ctx, principalFor(ident), CreateBoardInput{Title: "Second"})
	if err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}
	if again.MintedGhostToken != "" {
		t.Errorf("MintedGhostToken = %q, want empty for a known identity", again.MintedGhostToken)
	}
	if again.Board.CreatorIdentity != "gho_known" {
		t.Errorf("creator = %q, want gho_known", again.Board.CreatorIdentity)
	}
}

func TestCreateNoteOnPrivateBoardNeedsInvite(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedBoard(fs, store.Board{ID: "brd_priv", IsPublic: false, CreatorIdentity: "gho_owner", SecretAdminToken: "secret"})
	input := CreateNoteInput{Content: "hello", PositionX: 10, PositionY: 20}

	before := fs.mutationCount()
	outsider := Principal{Account: &store.Account{ID: "acct_1", Email: "out@example.com", IsEmailVerified: true}}
	_, err := svc.CreateNote(ctx, outsider, "brd_priv", input)
	derr := assertPermissionDenied(t, err)
	if details, ok := derr.Details.(map[string]any); !ok || details["reason"] != "NoInvite" {
		t.Errorf("denial details = %v, want reason NoInvite", derr.Details)
	}
	if fs.mutationCount() != before {
		t.Error("denied create mutated the store")
	}

	fs.invites["brd_priv"] = map[string]bool{"in@example.com": true}
	invited := Principal{Account: &store.Account{ID: "acct_2", Email: "in@example.com", IsEmailVerified: true}}
	result, err := svc.CreateNote(ctx, invited, "brd_priv", input)
	if err != nil {
		t.Fatalf("CreateNote() for invitee error = %v", err)
	}
	if result.MintedGhostToken == "" {
		t.Error("invitee without a ghost token should be minted one")
	}
	if result.Note.Color != "YELLOW" {
		t.Errorf("default color = %q, want YELLOW", result.Note.Color)
	}
}

func TestCreateNoteValidation(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedBoard(fs, store.Board{ID: "brd_1", IsPublic: true, CreatorIdentity: "gho_owner"})

	if _, err := svc.CreateNote(ctx, Principal{}, "brd_1", CreateNoteInput{Content: "   "}); err == nil {
		t.Error("blank content accepted")
	}
	if _, err := svc.CreateNote(ctx, Principal{}, "brd_1", CreateNoteInput{Content: "x", Color: "MAGENTA"}); err == nil {
		t.Error("unknown color accepted")
	}
	if _, err := svc.CreateNote(ctx, Principal{}, "brd_missing", CreateNoteInput{Content: "x"}); err == nil {
		t.Error("missing board accepted")
	}
}

func TestUpdateNoteAdminFieldRestriction(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedBoard(fs, store.Board{ID: "brd_1", IsPublic: true, CreatorIdentity: "gho_owner", SecretAdminToken: "secret"})
	seedNote(fs, store.Note{ID: "not_1", BoardID: "brd_1", CreatorIdentity: "gho_author", Content: "original", PositionX: 50, PositionY: 50})
	admin := Principal{AdminToken: "secret"}

	x := 120.0
	moved, err := svc.UpdateNote(ctx, admin, "not_1", UpdateNoteInput{PositionX: &x})
	if err != nil {
		t.Fatalf("admin reposition error = %v", err)
	}
	if moved.PositionX != 120 {
		t.Errorf("positionX = %v, want 120", moved.PositionX)
	}

	content := "rewritten"
	before := fs.mutationCount()
	_, err = svc.UpdateNote(ctx, admin, "not_1", UpdateNoteInput{Content: &content})
	derr := assertPermissionDenied(t, err)
	if details, ok := derr.Details.(map[string]any); !ok || details["reason"] != "AdminFieldRestricted" {
		t.Errorf("denial details = %v, want reason AdminFieldRestricted", derr.Details)
	}
	if fs.mutationCount() != before {
		t.Error("denied update mutated the store")
	}

	// One restricted field poisons the whole patch.
	_, err = svc.UpdateNote(ctx, admin, "not_1", UpdateNoteInput{PositionX: &x, Content: &content})
	assertPermissionDenied(t, err)
	if fs.notes["not_1"].Content != "original" {
		t.Errorf("content = %q, want original", fs.notes["not_1"].Content)
	}
}

func TestUpdateNoteAuthor(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedBoard(fs, store.Board{ID: "brd_1", IsPublic: true, CreatorIdentity: "gho_owner"})
	seedNote(fs, store.Note{ID: "not_1", BoardID: "brd_1", CreatorIdentity: "gho_author", Content: "draft", Color: "YELLOW"})
	author := seedIdentity(fs, "gho_author", "tok-author")

	content := "  final  "
	color := "COOL"
	updated, err := svc.UpdateNote(ctx, principalFor(author), "not_1", UpdateNoteInput{Content: &content, Color: &color})
	if err != nil {
		t.Fatalf("UpdateNote() error = %v", err)
	}
	if updated.Content != "final" {
		t.Errorf("content = %q, want trimmed %q", updated.Content, "final")
	}
	if updated.Color != "COOL" {
		t.Errorf("color = %q, want COOL", updated.Color)
	}

	stranger := seedIdentity(fs, "gho_other", "tok-other")
	_, err = svc.UpdateNote(ctx, principalFor(stranger), "not_1", UpdateNoteInput{Content: &content})
	derr := assertPermissionDenied(t, err)
	if details, ok := derr.Details.(map[string]any); !ok || details["reason"] != "NotAuthor" {
		t.Errorf("denial details = %v, want reason NotAuthor", derr.Details)
	}
}

func TestDeleteNote(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedBoard(fs, store.Board{ID: "brd_1", IsPublic: true, CreatorIdentity: "gho_owner", SecretAdminToken: "secret"})
	seedNote(fs, store.Note{ID: "not_1", BoardID: "brd_1", CreatorIdentity: "gho_author", Content: "hi"})

	// Admin privilege stops at repositioning: no deleting other people's notes.
	admin := Principal{AdminToken: "secret"}
	assertPermissionDenied(t, svc.DeleteNote(ctx, admin, "not_1"))
	if _, ok := fs.notes["not_1"]; !ok {
		t.Fatal("denied delete removed the note")
	}

	author := seedIdentity(fs, "gho_author", "tok-author")
	if err := svc.DeleteNote(ctx, principalFor(author), "not_1"); err != nil {
		t.Fatalf("author DeleteNote() error = %v", err)
	}
	if _, ok := fs.notes["not_1"]; ok {
		t.Error("note still present after author delete")
	}
}

func TestGetBoardHidesAdminSecret(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedBoard(fs, store.Board{
		ID: "brd_1", Title: "Retro", IsPublic: true,
		CreatorIdentity: "gho_owner", CreatorClaimedBy: "acct_owner", SecretAdminToken: "secret",
	})

	plain, err := svc.GetBoard(ctx, Principal{}, "brd_1")
	if err != nil {
		t.Fatalf("GetBoard() error = %v", err)
	}
	if plain.SecretAdminToken != "" {
		t.Errorf("reader sees admin secret %q", plain.SecretAdminToken)
	}

	// Admin rights alone are not enough: the claimed owner's account holds
	// full admin power but never sees the secret again after creation.
	owner := Principal{Account: &store.Account{ID: "acct_owner", Email: "o@example.com", IsEmailVerified: true}}
	asOwner, err := svc.GetBoard(ctx, owner, "brd_1")
	if err != nil {
		t.Fatalf("GetBoard() as owner error = %v", err)
	}
	if asOwner.SecretAdminToken != "" {
		t.Errorf("claimed owner sees admin secret %q", asOwner.SecretAdminToken)
	}

	// Only a caller who already presented the secret gets it echoed back.
	presented, err := svc.GetBoard(ctx, Principal{AdminToken: "secret"}, "brd_1")
	if err != nil {
		t.Fatalf("GetBoard() with secret error = %v", err)
	}
	if presented.SecretAdminToken != "secret" {
		t.Errorf("admin secret = %q, want secret", presented.SecretAdminToken)
	}

	title := "Renamed"
	updated, err := svc.UpdateBoard(ctx, owner, "brd_1", UpdateBoardInput{Title: &title})
	if err != nil {
		t.Fatalf("UpdateBoard() as owner error = %v", err)
	}
	if updated.SecretAdminToken != "" {
		t.Errorf("board update echoed admin secret %q to the owner account", updated.SecretAdminToken)
	}
}

func TestUpdateBoardRequiresAdmin(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedBoard(fs, store.Board{ID: "brd_1", Title: "Retro", IsPublic: true, CreatorIdentity: "gho_owner", SecretAdminToken: "secret"})

	title := "Renamed"
	before := fs.mutationCount()
	_, err := svc.UpdateBoard(ctx, Principal{}, "brd_1", UpdateBoardInput{Title: &title})
	assertPermissionDenied(t, err)
	if fs.mutationCount() != before {
		t.Error("denied board update mutated the store")
	}

	updated, err := svc.UpdateBoard(ctx, Principal{AdminToken: "secret"}, "brd_1", UpdateBoardInput{Title: &title})
	if err != nil {
		t.Fatalf("UpdateBoard() error = %v", err)
	}
	if updated.Title != "Renamed" {
		t.Errorf("title = %q, want Renamed", updated.Title)
	}
}

func TestClaimBoardWithAdminSecret(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedBoard(fs, store.Board{ID: "brd_1", IsPublic: true, CreatorIdentity: "gho_old", SecretAdminToken: "secret"})

	_, _, err := svc.ClaimBoard(ctx, Principal{AdminToken: "wrong"}, "brd_1")
	assertPermissionDenied(t, err)

	claimed, mintedToken, err := svc.ClaimBoard(ctx, Principal{AdminToken: "secret"}, "brd_1")
	if err != nil {
		t.Fatalf("ClaimBoard() error = %v", err)
	}
	if mintedToken == "" {
		t.Error("claimer without a ghost token should be minted one")
	}
	if claimed.CreatorIdentity == "gho_old" {
		t.Error("board creator unchanged after claim")
	}
	if fs.boards["brd_1"].CreatorIdentity != claimed.CreatorIdentity {
		t.Error("claim not persisted")
	}
}

func TestPermissionsSnapshot(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedBoard(fs, store.Board{ID: "brd_1", IsPublic: true, CreatorIdentity: "gho_owner", SecretAdminToken: "secret"})

	anon, err := svc.Permissions(ctx, Principal{}, "brd_1")
	if err != nil {
		t.Fatalf("Permissions() error = %v", err)
	}
	if !anon["canRead"] || !anon["canWrite"] || anon["canAdmin"] {
		t.Errorf("anonymous permissions = %v, want read+write only", anon)
	}

	admin, err := svc.Permissions(ctx, Principal{AdminToken: "secret"}, "brd_1")
	if err != nil {
		t.Fatalf("Permissions() error = %v", err)
	}
	if !admin["canAdmin"] {
		t.Errorf("admin permissions = %v, want canAdmin", admin)
	}
}

func TestDiscoverValidation(t *testing.T) {
	svc := newTestService(newFakeStore())

	if _, err := svc.Discover(context.Background(), "", "trending", 20, 0); err == nil {
		t.Error("unknown sort accepted")
	}

	// No search backend configured: empty response, not an error.
	resp, err := svc.Discover(context.Background(), "retro", "", 20, 0)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("results = %v, want empty", resp.Results)
	}
}

func TestInviteLifecycle(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedBoard(fs, store.Board{ID: "brd_1", IsPublic: false, CreatorIdentity: "gho_owner", SecretAdminToken: "secret"})
	admin := Principal{AdminToken: "secret"}

	if err := svc.InviteToBoard(ctx, admin, "brd_1", "not-an-email"); err == nil {
		t.Error("invalid email accepted")
	}
	if err := svc.InviteToBoard(ctx, admin, "brd_1", " Member@Example.COM "); err != nil {
		t.Fatalf("InviteToBoard() error = %v", err)
	}
	if !fs.invites["brd_1"]["member@example.com"] {
		t.Fatalf("invite not stored lowercased: %v", fs.invites["brd_1"])
	}

	invites, err := svc.ListInvites(ctx, admin, "brd_1")
	if err != nil {
		t.Fatalf("ListInvites() error = %v", err)
	}
	if len(invites) != 1 {
		t.Fatalf("invites = %d, want 1", len(invites))
	}

	if err := svc.RevokeInvite(ctx, admin, "brd_1", "member@example.com"); err != nil {
		t.Fatalf("RevokeInvite() error = %v", err)
	}
	if fs.invites["brd_1"]["member@example.com"] {
		t.Error("invite still present after revoke")
	}

	// Non-admins cannot manage the invite list.
	assertPermissionDenied(t, svc.InviteToBoard(ctx, Principal{}, "brd_1", "x@example.com"))
}

func TestWriteCommitsWhenBrokerIsDown(t *testing.T) {
	fs := newFakeStore()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	emitter := realtime.NewEmitter(client)
	srv.Close()

	svc := NewService(fs, nil, identity.NewResolver(fs), nil, nil, nil, emitter, nil, Config{TokenSecret: "test-secret"})
	ctx := context.Background()

	seedBoard(fs, store.Board{ID: "brd_1", IsPublic: true, CreatorIdentity: "gho_owner"})
	seedNote(fs, store.Note{ID: "not_1", BoardID: "brd_1", CreatorIdentity: "gho_owner", Content: "hi", PositionX: 200})
	voter := seedIdentity(fs, "gho_a", "tok-a")

	// The broker is gone; every publish fails. Writes must still commit.
	result, err := svc.CreateNote(ctx, principalFor(voter), "brd_1", CreateNoteInput{Content: "still here"})
	if err != nil {
		t.Fatalf("CreateNote() with dead broker error = %v", err)
	}
	if _, ok := fs.notes[result.Note.ID]; !ok {
		t.Error("created note not persisted")
	}

	updated, created, err := svc.ToggleUpvote(ctx, principalFor(voter), "not_1")
	if err != nil {
		t.Fatalf("ToggleUpvote() with dead broker error = %v", err)
	}
	if !created {
		t.Error("upvote not created")
	}
	if !almostEqual(updated.PositionX, 190) {
		t.Errorf("positionX = %v, want gravity-applied 190", updated.PositionX)
	}
}

func TestNoteAuthorshipPresentation(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	fs.accounts["acct_owner"] = &store.Account{ID: "acct_owner", Email: "o@example.com", DisplayName: "Morgan", IsEmailVerified: true}
	seedBoard(fs, store.Board{
		ID: "brd_1", IsPublic: true,
		CreatorIdentity: "gho_owner", CreatorClaimedBy: "acct_owner", SecretAdminToken: "secret",
	})
	owner := seedIdentity(fs, "gho_owner", "tok-owner")
	stranger := seedIdentity(fs, "gho_other", "tok-other")

	t.Run("notes are anonymous by default", func(t *testing.T) {
		result, err := svc.CreateNote(ctx, principalFor(stranger), "brd_1", CreateNoteInput{Content: "hi"})
		if err != nil {
			t.Fatalf("CreateNote() error = %v", err)
		}
		if !result.Note.IsAnonymousToPublic {
			t.Error("IsAnonymousToPublic = false, want default true")
		}
		short := strings.TrimPrefix(result.Note.ID, "not_")[:4]
		if result.Note.AuthorLabel != "#"+short {
			t.Errorf("AuthorLabel = %q, want %q", result.Note.AuthorLabel, "#"+short)
		}
		if !result.Note.IsAuthor {
			t.Error("IsAuthor = false for the creator")
		}
	})

	t.Run("signed note by the claimed board owner", func(t *testing.T) {
		signed := false
		result, err := svc.CreateNote(ctx, principalFor(owner), "brd_1", CreateNoteInput{Content: "welcome", IsAnonymousToPublic: &signed})
		if err != nil {
			t.Fatalf("CreateNote() error = %v", err)
		}
		if result.Note.AuthorLabel != "ADMIN (Morgan)" {
			t.Errorf("AuthorLabel = %q, want ADMIN (Morgan)", result.Note.AuthorLabel)
		}
	})

	t.Run("signed note by the owner of an unclaimed board", func(t *testing.T) {
		seedBoard(fs, store.Board{ID: "brd_unclaimed", IsPublic: true, CreatorIdentity: "gho_owner", SecretAdminToken: "s2"})
		signed := false
		result, err := svc.CreateNote(ctx, principalFor(owner), "brd_unclaimed", CreateNoteInput{Content: "yo", IsAnonymousToPublic: &signed})
		if err != nil {
			t.Fatalf("CreateNote() error = %v", err)
		}
		if result.Note.AuthorLabel != "ADMIN" {
			t.Errorf("AuthorLabel = %q, want ADMIN", result.Note.AuthorLabel)
		}
	})

	t.Run("signed note by a non-owner stays hashed", func(t *testing.T) {
		seedNote(fs, store.Note{ID: "not_cafe9999", BoardID: "brd_1", CreatorIdentity: "gho_other", Content: "x", IsAnonymousToPublic: false})
		views, err := svc.ListBoardNotes(ctx, principalFor(owner), "brd_1")
		if err != nil {
			t.Fatalf("ListBoardNotes() error = %v", err)
		}
		for _, view := range views {
			if view.ID != "not_cafe9999" {
				continue
			}
			if view.AuthorLabel != "#cafe" {
				t.Errorf("AuthorLabel = %q, want #cafe", view.AuthorLabel)
			}
			if view.IsAuthor {
				t.Error("IsAuthor = true for a different viewer")
			}
			return
		}
		t.Fatal("seeded note missing from listing")
	})

	t.Run("upvote state is viewer-relative", func(t *testing.T) {
		seedNote(fs, store.Note{ID: "not_beef0000", BoardID: "brd_1", CreatorIdentity: "gho_owner", Content: "vote me"})
		view, created, err := svc.ToggleUpvote(ctx, principalFor(stranger), "not_beef0000")
		if err != nil {
			t.Fatalf("ToggleUpvote() error = %v", err)
		}
		if !created || !view.IsUpvoted {
			t.Errorf("ToggleUpvote() created = %v, IsUpvoted = %v, want both true", created, view.IsUpvoted)
		}

		views, err := svc.ListBoardNotes(ctx, principalFor(owner), "brd_1")
		if err != nil {
			t.Fatalf("ListBoardNotes() error = %v", err)
		}
		for _, other := range views {
			if other.ID == "not_beef0000" && other.IsUpvoted {
				t.Error("IsUpvoted = true for a viewer who never voted")
			}
		}
	})

	t.Run("admins cannot flip anonymity on someone else's note", func(t *testing.T) {
		seedNote(fs, store.Note{ID: "not_feed0000", BoardID: "brd_1", CreatorIdentity: "gho_other", Content: "x", IsAnonymousToPublic: true})
		signed := false
		_, err := svc.UpdateNote(ctx, Principal{AdminToken: "secret"}, "not_feed0000", UpdateNoteInput{IsAnonymousToPublic: &signed})
		assertPermissionDenied(t, err)
		if !fs.notes["not_feed0000"].IsAnonymousToPublic {
			t.Error("denied update flipped the anonymity flag")
		}

		if _, err := svc.UpdateNote(ctx, principalFor(stranger), "not_feed0000", UpdateNoteInput{IsAnonymousToPublic: &signed}); err != nil {
			t.Fatalf("author UpdateNote() error = %v", err)
		}
		if fs.notes["not_feed0000"].IsAnonymousToPublic {
			t.Error("author could not sign their own note")
		}
	})
}

func TestDeleteBoardHidesItFromReads(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedBoard(fs, store.Board{ID: "brd_1", IsPublic: true, CreatorIdentity: "gho_owner", SecretAdminToken: "secret"})

	if err := svc.DeleteBoard(ctx, Principal{AdminToken: "secret"}, "brd_1"); err != nil {
		t.Fatalf("DeleteBoard() error = %v", err)
	}
	_, err := svc.GetBoard(ctx, Principal{}, "brd_1")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Code != "NOT_FOUND" {
		t.Errorf("GetBoard() after delete error = %v, want NOT_FOUND", err)
	}
}

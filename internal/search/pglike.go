package search

import (
	"context"
	"strings"
	"time"

	"orbit/api/internal/store"
)

// reindexBatch bounds how many boards a single reindex pass loads.
const reindexBatch = 1000

type boardStore interface {
	SearchPublicBoards(ctx context.Context, query, sort string, limit, offset int) ([]store.Board, error)
	ListNotesByBoard(ctx context.Context, boardID string) ([]store.Note, error)
}

// PgLike implements Searcher with the ILIKE queries the store already runs for
// the gallery. It is the fallback when Meilisearch is not configured or down.
type PgLike struct {
	store boardStore
}

// NewPgLike creates a Postgres-backed searcher.
func NewPgLike(boards boardStore) *PgLike {
	return &PgLike{store: boards}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgLike) Healthy() bool {
	return true
}

// Search runs the gallery query against Postgres. Unlike Meilisearch there is
// no cheap total, so Total is the page size.
func (p *PgLike) Search(q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	boards, err := p.store.SearchPublicBoards(context.Background(), q.Text, q.Sort, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	results := make([]Result, 0, len(boards))
	for _, board := range boards {
		results = append(results, Result{
			ID:           board.ID,
			Title:        board.Title,
			NoteCount:    board.NoteCount,
			TotalUpvotes: board.TotalUpvotes,
			CreatedAt:    board.CreatedAt.Format(time.RFC3339),
		})
	}
	return results, len(results), nil
}

// LoadRecord builds the index record for a single public board.
func (p *PgLike) LoadRecord(ctx context.Context, board store.Board) (BoardRecord, error) {
	notes, err := p.store.ListNotesByBoard(ctx, board.ID)
	if err != nil {
		return BoardRecord{}, err
	}
	return buildRecord(board, notes), nil
}

// LoadAllRecords reads every public board and its notes for a full reindex.
func (p *PgLike) LoadAllRecords(ctx context.Context) ([]BoardRecord, error) {
	boards, err := p.store.SearchPublicBoards(ctx, "", SortRecent, reindexBatch, 0)
	if err != nil {
		return nil, err
	}

	records := make([]BoardRecord, 0, len(boards))
	for _, board := range boards {
		record, err := p.LoadRecord(ctx, board)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func buildRecord(board store.Board, notes []store.Note) BoardRecord {
	var contents []string
	for _, note := range notes {
		if strings.TrimSpace(note.Content) != "" {
			contents = append(contents, note.Content)
		}
	}
	return BoardRecord{
		ID:            board.ID,
		Title:         board.Title,
		NoteText:      strings.Join(contents, "\n"),
		NoteCount:     board.NoteCount,
		TotalUpvotes:  board.TotalUpvotes,
		CreatedAt:     board.CreatedAt.Format(time.RFC3339),
		CreatedAtUnix: float64(board.CreatedAt.Unix()),
	}
}

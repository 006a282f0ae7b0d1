package search

import (
	"context"
	"log"

	"orbit/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to the
// Postgres ILIKE query.
type Service struct {
	meili  *Meili
	pglike *PgLike
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pglike *PgLike) *Service {
	return &Service{meili: meili, pglike: pglike}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	results, total, err := s.pglike.Search(q)
	if err != nil {
		log.Printf("search: postgres fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexBoard refreshes a board's discovery record (fire-and-forget).
// Private and soft-deleted boards are dropped from the index instead.
func (s *Service) IndexBoard(ctx context.Context, board store.Board) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if !board.IsPublic || board.IsSoftDeleted {
		s.DeleteBoard(board.ID)
		return
	}
	go func() {
		record, err := s.pglike.LoadRecord(context.WithoutCancel(ctx), board)
		if err != nil {
			log.Printf("search: load record for board %s: %v", board.ID, err)
			return
		}
		if err := s.meili.IndexBoard(record); err != nil {
			log.Printf("search: index board %s: %v", board.ID, err)
		}
	}()
}

// DeleteBoard removes a board from the discovery index (fire-and-forget).
func (s *Service) DeleteBoard(boardID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteBoard(boardID); err != nil {
			log.Printf("search: delete board %s: %v", boardID, err)
		}
	}()
}

// ReindexAllFromPG reads all public boards from Postgres and pushes them to
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pglike == nil {
		return
	}
	records, err := s.pglike.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexBoards(records); err != nil {
		log.Printf("search: reindex boards: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

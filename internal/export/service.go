package export

import (
	"context"
	"fmt"
	"time"

	"orbit/api/internal/store"
)

// DataStore defines the data access the exporter needs
type DataStore interface {
	GetBoard(ctx context.Context, boardID string) (store.Board, error)
	ListNotesByBoard(ctx context.Context, boardID string) ([]store.Note, error)
}

// Service provides board export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(dataStore DataStore) *Service {
	return &Service{store: dataStore}
}

// ExportBoardPDF renders a board with all its notes and returns the PDF bytes.
// The caller is responsible for access checks.
func (s *Service) ExportBoardPDF(ctx context.Context, boardID string) (*Result, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("get board: %w", err)
	}

	notes, err := s.store.ListNotesByBoard(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}

	data := TemplateData{
		Title:      board.Title,
		IsPublic:   board.IsPublic,
		ExportedAt: time.Now(),
		Notes:      make([]TemplateNote, 0, len(notes)),
	}
	for _, note := range notes {
		data.Notes = append(data.Notes, TemplateNote{
			Content:     note.Content,
			Color:       note.Color,
			PositionX:   note.PositionX,
			PositionY:   note.PositionY,
			UpvoteCount: note.UpvoteCount,
		})
	}

	html, err := RenderBoardHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render board html: %w", err)
	}

	return exportPDF(html, board.Title)
}

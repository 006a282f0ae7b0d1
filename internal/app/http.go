package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"orbit/api/internal/auth"
	"orbit/api/internal/realtime"
	"orbit/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	relay      *realtime.Relay
	corsOrigin string
}

func NewHTTPServer(service *Service, relay *realtime.Relay, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, relay: relay, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no principal required)
	if r.Method == http.MethodPost {
		switch r.URL.Path {
		case "/api/auth/signup":
			s.handleSignUp(w, r)
			return
		case "/api/auth/signin":
			s.handleSignIn(w, r)
			return
		case "/api/auth/verify-email":
			s.handleVerifyEmail(w, r)
			return
		case "/api/auth/resend-verification":
			s.handleResendVerification(w, r)
			return
		case "/api/auth/refresh":
			s.handleRefresh(w, r)
			return
		case "/api/auth/signout":
			s.handleSignOut(w, r)
			return
		}
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	parts = parts[1:]

	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	if len(parts) == 1 && parts[0] == "session" && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		if principal.Account == nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not signed in", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accountId":       principal.Account.ID,
			"email":           principal.Account.Email,
			"displayName":     principal.Account.DisplayName,
			"isEmailVerified": principal.Account.IsEmailVerified,
		})
		return
	}

	// Ghost identity
	if len(parts) == 1 && parts[0] == "identity" && r.Method == http.MethodPost {
		minted, err := s.service.MintIdentity(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"ghostToken": minted.Token,
			"identityId": minted.ID,
		})
		return
	}

	if len(parts) == 2 && parts[0] == "identity" && parts[1] == "claim" && r.Method == http.MethodPost {
		var body struct {
			GhostToken string `json:"ghostToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		token := body.GhostToken
		if token == "" {
			token = ghostToken(r)
		}
		claimed, err := s.service.ClaimIdentity(r.Context(), principal, token)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"identityId": claimed.ID,
			"claimedBy":  claimed.ClaimedBy,
		})
		return
	}

	// Board collections
	if len(parts) == 2 && parts[0] == "boards" && r.Method == http.MethodGet {
		switch parts[1] {
		case "discover":
			s.handleDiscover(w, r)
			return
		case "mine":
			boards, err := s.service.MyBoards(r.Context(), principal)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"boards": boardListJSON(boards)})
			return
		case "history":
			boards, err := s.service.History(r.Context(), principal)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"boards": boardListJSON(boards)})
			return
		case "invited":
			boards, err := s.service.InvitedBoards(r.Context(), principal)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"boards": boardListJSON(boards)})
			return
		}
	}

	if len(parts) == 1 && parts[0] == "boards" && r.Method == http.MethodPost {
		s.handleCreateBoard(w, r, principal)
		return
	}

	if len(parts) == 2 && parts[0] == "boards" {
		s.handleBoard(w, r, principal, parts[1])
		return
	}

	if len(parts) == 3 && parts[0] == "boards" {
		boardID := parts[1]
		switch parts[2] {
		case "claim":
			if r.Method == http.MethodPost {
				s.handleClaimBoard(w, r, principal, boardID)
				return
			}
		case "permissions":
			if r.Method == http.MethodGet {
				permissions, err := s.service.Permissions(r.Context(), principal, boardID)
				if err != nil {
					writeMappedError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, permissions)
				return
			}
		case "invites":
			s.handleInvites(w, r, principal, boardID)
			return
		case "notes":
			s.handleBoardNotes(w, r, principal, boardID)
			return
		case "export.pdf":
			if r.Method == http.MethodGet {
				s.handleExportPDF(w, r, principal, boardID)
				return
			}
		case "stream":
			if r.Method == http.MethodGet {
				s.handleStream(w, r, principal, boardID)
				return
			}
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	// Note collections
	if len(parts) == 2 && parts[0] == "notes" && r.Method == http.MethodGet {
		query := r.URL.Query().Get("q")
		switch parts[1] {
		case "mine":
			notes, err := s.service.MyNotes(r.Context(), principal, query)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"notes": noteListJSON(notes)})
			return
		case "upvoted":
			notes, err := s.service.UpvotedNotes(r.Context(), principal, query)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"notes": noteListJSON(notes)})
			return
		}
	}

	if len(parts) == 2 && parts[0] == "notes" {
		s.handleNote(w, r, principal, parts[1])
		return
	}

	if len(parts) == 3 && parts[0] == "notes" && parts[2] == "upvote" {
		switch r.Method {
		case http.MethodPost:
			note, created, err := s.service.ToggleUpvote(r.Context(), principal, parts[1])
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"note":    noteJSON(note),
				"upvoted": created,
			})
		case http.MethodGet, http.MethodHead:
			upvoted, err := s.service.HasUpvoted(r.Context(), principal, parts[1])
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"upvoted": upvoted})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// ---------------------------------------------------------------------------
// Auth handlers

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionJSON(session))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.VerifyEmail(r.Context(), body.Email, body.Code); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

func (s *HTTPServer) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.ResendVerification(r.Context(), body.Email); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *HTTPServer) handleSignOut(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.SignOut(r.Context(), body.RefreshToken); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ---------------------------------------------------------------------------
// Board handlers

func (s *HTTPServer) handleDiscover(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	response, err := s.service.Discover(r.Context(), query.Get("q"), query.Get("sort"), limit, offset)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleCreateBoard(w http.ResponseWriter, r *http.Request, principal Principal) {
	var body CreateBoardInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.CreateBoard(r.Context(), principal, body)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	payload := map[string]any{
		"board":      boardJSON(result.Board, true),
		"adminToken": result.AdminToken,
	}
	if result.MintedGhostToken != "" {
		payload["ghostToken"] = result.MintedGhostToken
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleBoard(w http.ResponseWriter, r *http.Request, principal Principal, boardID string) {
	switch r.Method {
	case http.MethodGet:
		board, err := s.service.GetBoard(r.Context(), principal, boardID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		notes, err := s.service.ListBoardNotes(r.Context(), principal, boardID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"board": boardJSON(board, board.SecretAdminToken != ""),
			"notes": noteListJSON(notes),
		})
	case http.MethodPut, http.MethodPatch:
		var body UpdateBoardInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		board, err := s.service.UpdateBoard(r.Context(), principal, boardID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"board": boardJSON(board, board.SecretAdminToken != "")})
	case http.MethodDelete:
		if err := s.service.DeleteBoard(r.Context(), principal, boardID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleClaimBoard(w http.ResponseWriter, r *http.Request, principal Principal, boardID string) {
	board, mintedToken, err := s.service.ClaimBoard(r.Context(), principal, boardID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	payload := map[string]any{"board": boardJSON(board, true)}
	if mintedToken != "" {
		payload["ghostToken"] = mintedToken
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleInvites(w http.ResponseWriter, r *http.Request, principal Principal, boardID string) {
	switch r.Method {
	case http.MethodGet:
		invites, err := s.service.ListInvites(r.Context(), principal, boardID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(invites))
		for _, invite := range invites {
			items = append(items, map[string]any{
				"email":     invite.Email,
				"invitedAt": invite.InvitedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"invites": items})
	case http.MethodPost:
		var body struct {
			Email string `json:"email"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.InviteToBoard(r.Context(), principal, boardID, body.Email); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"invited": true})
	case http.MethodDelete:
		email := r.URL.Query().Get("email")
		if email == "" {
			var body struct {
				Email string `json:"email"`
			}
			if err := decodeBody(r, &body); err == nil {
				email = body.Email
			}
		}
		if err := s.service.RevokeInvite(r.Context(), principal, boardID, email); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleBoardNotes(w http.ResponseWriter, r *http.Request, principal Principal, boardID string) {
	switch r.Method {
	case http.MethodGet:
		notes, err := s.service.ListBoardNotes(r.Context(), principal, boardID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notes": noteListJSON(notes)})
	case http.MethodPost:
		var body CreateNoteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.CreateNote(r.Context(), principal, boardID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := map[string]any{"note": noteJSON(result.Note)}
		if result.MintedGhostToken != "" {
			payload["ghostToken"] = result.MintedGhostToken
		}
		writeJSON(w, http.StatusCreated, payload)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleNote(w http.ResponseWriter, r *http.Request, principal Principal, noteID string) {
	switch r.Method {
	case http.MethodPut, http.MethodPatch:
		var body UpdateNoteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		note, err := s.service.UpdateNote(r.Context(), principal, noteID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"note": noteJSON(note)})
	case http.MethodDelete:
		if err := s.service.DeleteNote(r.Context(), principal, noteID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleExportPDF(w http.ResponseWriter, r *http.Request, principal Principal, boardID string) {
	result, err := s.service.ExportBoardPDF(r.Context(), principal, boardID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request, principal Principal, boardID string) {
	if s.relay == nil {
		writeError(w, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "Realtime updates are not configured", nil)
		return
	}
	if err := s.service.AuthorizeStream(r.Context(), principal, boardID); err != nil {
		writeMappedError(w, err)
		return
	}
	s.relay.ServeBoard(w, r, boardID)
}

// ---------------------------------------------------------------------------
// Helpers

// principal resolves the request's credentials. An invalid bearer token fails
// the request; everything else degrades to a weaker principal.
func (s *HTTPServer) principal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	principal, err := s.service.PrincipalFrom(r.Context(), ghostToken(r), bearerToken(r), r.Header.Get("X-Admin-Token"))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return Principal{}, false
	}
	return principal, true
}

// ghostToken reads the anonymous identity token. Websocket clients cannot set
// headers, so a query parameter works as fallback.
func ghostToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get("X-Ghost-Token")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("ghostToken"))
}

func sessionJSON(session Session) map[string]any {
	return map[string]any{
		"token":           session.Token,
		"refreshToken":    session.RefreshToken,
		"accountId":       session.AccountID,
		"email":           session.Email,
		"displayName":     session.DisplayName,
		"isEmailVerified": session.IsEmailVerified,
		"expiresAt":       session.ExpiresAt,
	}
}

func boardJSON(board store.Board, includeAdminToken bool) map[string]any {
	payload := map[string]any{
		"id":           board.ID,
		"title":        board.Title,
		"isPublic":     board.IsPublic,
		"createdAt":    board.CreatedAt,
		"noteCount":    board.NoteCount,
		"totalUpvotes": board.TotalUpvotes,
	}
	if includeAdminToken {
		payload["adminToken"] = board.SecretAdminToken
	}
	return payload
}

func boardListJSON(boards []store.Board) []map[string]any {
	items := make([]map[string]any, 0, len(boards))
	for _, board := range boards {
		items = append(items, boardJSON(board, false))
	}
	return items
}

func noteJSON(view NoteView) map[string]any {
	return map[string]any{
		"id":                  view.ID,
		"boardId":             view.BoardID,
		"content":             view.Content,
		"color":               view.Color,
		"positionX":           view.PositionX,
		"positionY":           view.PositionY,
		"isAnonymousToPublic": view.IsAnonymousToPublic,
		"upvoteCount":         view.UpvoteCount,
		"createdAt":           view.CreatedAt,
		"isAuthor":            view.IsAuthor,
		"isUpvoted":           view.IsUpvoted,
		"authorLabel":         view.AuthorLabel,
	}
}

func noteListJSON(views []NoteView) []map[string]any {
	items := make([]map[string]any, 0, len(views))
	for _, view := range views {
		items = append(items, noteJSON(view))
	}
	return items
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade reach the underlying connection through
// the logging wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Ghost-Token, X-Admin-Token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

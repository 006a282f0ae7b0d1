// Package access decides who may read, write, or administer boards and notes.
// Evaluate is a pure function of the request context and the target resource;
// it touches no storage, so callers resolve identities and invite membership
// up front and pass the results in.
package access

import "strings"

type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionAdmin Action = "admin"
)

// Reason explains a denial.
type Reason string

const (
	ReasonNotAuthor            Reason = "NotAuthor"
	ReasonAdminFieldRestricted Reason = "AdminFieldRestricted"
	ReasonNoInvite             Reason = "NoInvite"
	ReasonPrivateBoardNoAccess Reason = "PrivateBoardNoAccess"
)

// Context is the per-request identity snapshot, built once and threaded
// explicitly through every permission check.
type Context struct {
	// IdentityID is the resolved ghost identity, or "" when no trusted token
	// was presented.
	IdentityID string
	// AccountID is the authenticated account, or "".
	AccountID string
	// AccountEmail is the account's verified email, or "" when unverified.
	AccountEmail string
	// AdminToken is the X-Admin-Token header value, or "".
	AdminToken string
	// HasInvite reports whether AccountEmail matches an invite on the target
	// board. Callers compute it before evaluating.
	HasInvite bool
}

// Board is the slice of board state the evaluator needs.
type Board struct {
	ID               string
	IsPublic         bool
	SecretAdminToken string
	CreatorIdentity  string
	// CreatorClaimedBy is the account that claimed the creating identity,
	// or "" while the board is unclaimed.
	CreatorClaimedBy string
}

// Note is the slice of note state the evaluator needs. A nil *Note means the
// board itself is the target.
type Note struct {
	ID              string
	CreatorIdentity string
}

type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// adminNoteFields is the statically declared set an admin may touch on a note
// they did not author: layout curation only, never content.
var adminNoteFields = map[string]struct{}{
	"positionX": {},
	"positionY": {},
}

// NoteFields is every mutable note field; deletes and full writes request all
// of them.
var NoteFields = []string{"positionX", "positionY", "content", "color", "isAnonymousToPublic"}

// Evaluate applies the permission hierarchy in strict order. The order is
// load-bearing: authorship outranks administrative power, so a board admin can
// reposition but never rewrite someone else's contribution.
func Evaluate(ctx Context, board Board, note *Note, action Action, fields []string) Decision {
	// 1. Anyone may read a public board and its notes.
	if action == ActionRead && board.IsPublic {
		return allow()
	}

	// 2. Author supremacy: the note's creator passes every check, before any
	// admin logic runs.
	if note != nil && ctx.IdentityID != "" && note.CreatorIdentity == ctx.IdentityID {
		return allow()
	}

	// 3. Admin rights via the board secret or the claimed owner account.
	if isAdmin(ctx, board) {
		if note == nil {
			return allow()
		}
		if action == ActionRead {
			return allow()
		}
		// Someone else's note: repositioning only, and a single out-of-set
		// field denies the whole request.
		if len(fields) == 0 {
			return deny(ReasonAdminFieldRestricted)
		}
		for _, field := range fields {
			if _, ok := adminNoteFields[field]; !ok {
				return deny(ReasonAdminFieldRestricted)
			}
		}
		return allow()
	}

	// 4. Note creation targets the board itself. Public boards are an open
	// canvas; private boards open up to invited accounts.
	if note == nil && action == ActionWrite {
		if board.IsPublic || ctx.HasInvite {
			return allow()
		}
	}

	// 5. Invited accounts may read a private board and its notes, never more.
	if !board.IsPublic && ctx.HasInvite && action == ActionRead {
		return allow()
	}

	// 6. Deny, with the most specific reason available.
	if !board.IsPublic {
		if ctx.AccountEmail != "" {
			return deny(ReasonNoInvite)
		}
		return deny(ReasonPrivateBoardNoAccess)
	}
	return deny(ReasonNotAuthor)
}

// isAdmin reports whether the context holds board-admin power: the exact admin
// secret, or the account that claimed the board's creating identity.
func isAdmin(ctx Context, board Board) bool {
	if ctx.AdminToken != "" && strings.EqualFold(ctx.AdminToken, board.SecretAdminToken) {
		return true
	}
	if ctx.AccountID != "" && board.CreatorClaimedBy == ctx.AccountID {
		return true
	}
	return false
}

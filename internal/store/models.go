package store

import "time"

// Identity lifecycle states. Purged identities have no row at all.
const (
	IdentityActive      = "active"
	IdentitySoftDeleted = "soft_deleted"
)

type Identity struct {
	ID            string
	Token         string
	ClaimedBy     string
	State         string
	CreatedAt     time.Time
	SoftDeletedAt *time.Time
}

func (i Identity) IsClaimed() bool {
	return i.ClaimedBy != ""
}

type Account struct {
	ID                    string
	Email                 string
	DisplayName           string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationCode      string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
}

type Board struct {
	ID               string
	Title            string
	IsPublic         bool
	SecretAdminToken string
	CreatorIdentity  string
	CreatorClaimedBy string
	CreatedAt        time.Time
	IsSoftDeleted    bool
	SoftDeletedAt    *time.Time
	// Aggregates populated by listing queries
	NoteCount    int
	TotalUpvotes int
}

type Note struct {
	ID              string
	BoardID         string
	CreatorIdentity string
	Content         string
	Color           string
	PositionX       float64
	PositionY       float64
	// IsAnonymousToPublic hides the author behind a short hash label. Authors
	// may opt out to sign their notes.
	IsAnonymousToPublic bool
	CreatedAt           time.Time
	UpvoteCount         int
}

type BoardInvite struct {
	BoardID   string
	Email     string
	InvitedAt time.Time
}

type RefreshSession struct {
	TokenHash string
	AccountID string
	ExpiresAt time.Time
}

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/waypost/waypost/internal/store"
)

// UsersCollection is the document collection holding user profiles.
const UsersCollection = "users"

// Indexed attribute names on user documents.
const (
	AttrTeamID        = "team_id"
	AttrCanViewOthers = "can_view_others"
)

// ErrUserNotFound is returned when no profile exists for a user ID.
var ErrUserNotFound = errors.New("user not found")

// Directory resolves user profiles from the document store. It backs
// CurrentPrincipal and the consent-flag write path.
type Directory struct {
	docs store.Store
}

// NewDirectory creates a directory over the given document store.
func NewDirectory(docs store.Store) *Directory {
	return &Directory{docs: docs}
}

// Principal resolves the full principal for a user ID.
func (d *Directory) Principal(ctx context.Context, userID string) (*Principal, error) {
	doc, err := d.docs.Get(ctx, UsersCollection, userID)
	if err == store.ErrNotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve principal %s: %w", userID, err)
	}
	return &Principal{
		UserID:        userID,
		TeamID:        doc.Attrs[AttrTeamID],
		CanViewOthers: doc.Attrs[AttrCanViewOthers] == "true",
	}, nil
}

// Register creates or replaces a user profile.
func (d *Directory) Register(ctx context.Context, p Principal) error {
	if p.UserID == "" {
		return fmt.Errorf("register principal: empty user id")
	}
	_, err := d.docs.Write(ctx, store.Document{
		Collection: UsersCollection,
		Key:        p.UserID,
		Attrs: map[string]string{
			AttrTeamID:        p.TeamID,
			AttrCanViewOthers: boolAttr(p.CanViewOthers),
		},
	})
	if err != nil {
		return fmt.Errorf("register principal %s: %w", p.UserID, err)
	}
	return nil
}

// SetCanViewOthers updates the user's consent flag. The flag gates what this
// user consumes; it never hides them from others.
func (d *Directory) SetCanViewOthers(ctx context.Context, userID string, canViewOthers bool) error {
	p, err := d.Principal(ctx, userID)
	if err != nil {
		return err
	}
	p.CanViewOthers = canViewOthers
	return d.Register(ctx, *p)
}

func boolAttr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

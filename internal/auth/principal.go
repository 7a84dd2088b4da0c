// Package auth provides principal resolution and JWT token management.
package auth

// Principal identifies the calling user and scopes every read they perform.
type Principal struct {
	UserID string `json:"user_id"`
	TeamID string `json:"team_id"`

	// CanViewOthers is a per-user consent flag set by the user's own team. It
	// gates whether this user is shown teammates' positions, not whether the
	// user themselves is shown to others.
	CanViewOthers bool `json:"can_view_others"`
}

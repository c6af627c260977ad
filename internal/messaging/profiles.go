package messaging

import "context"

// UserInfo is the display identity the messaging core needs from the
// profile collaborator. Role is authoritative here; consumers must never
// infer it from the display name.
type UserInfo struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        Role   `json:"role"`
}

// UserDirectory resolves user ids to display identities. Implemented by the
// profile collaborator; the core treats lookup failures for non-critical
// reads (the conversation list) as degradable, not fatal.
type UserDirectory interface {
	Lookup(ctx context.Context, userID string) (*UserInfo, error)
}

// Placeholder stands in for a counterpart whose profile is missing, so a
// broken profile never fails the whole conversation list.
func Placeholder(userID string, role Role) *UserInfo {
	return &UserInfo{
		UserID:      userID,
		DisplayName: "Unknown user",
		Role:        role,
	}
}

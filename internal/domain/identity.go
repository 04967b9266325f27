package domain

import "strings"

// UnknownName is shown for senders without a profile.
const UnknownName = "Unknown"

// Identity is the verified caller as supplied by the auth provider.
type Identity struct {
	UserID      string `json:"user_id" validate:"required"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Normalize fills defaults: a missing name becomes UnknownName and an
// unknown role becomes student.
func (i Identity) Normalize() Identity {
	i.UserID = strings.TrimSpace(i.UserID)
	i.DisplayName = strings.TrimSpace(i.DisplayName)
	if i.DisplayName == "" {
		i.DisplayName = UnknownName
	}
	i.Role = ParseRole(string(i.Role))
	return i
}

// Validate reports ErrNotAuthenticated for an identity without a user id.
func (i Identity) Validate() error {
	if err := validatorInstance.Struct(i); err != nil {
		return ErrNotAuthenticated
	}
	return nil
}

// Profile returns the display fields of the identity.
func (i Identity) Profile() Profile {
	return Profile{Name: i.DisplayName, Role: i.Role, AvatarURL: i.AvatarURL}
}

// Profile holds the display fields resolved for a user id.
type Profile struct {
	UserID    string `json:"user_id,omitempty"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// UnknownProfile is returned for ids with no stored profile.
func UnknownProfile(userID string) Profile {
	return Profile{UserID: userID, Name: UnknownName, Role: RoleStudent}
}

// DirectoryEntry is a row in the user directory.
type DirectoryEntry struct {
	Profile
	Online bool `json:"online"`
}

package models

// Profile is the result of a connection test. Only ID and DisplayName carry
// meaning for the tutorial; the rest is shown back to the user.
type Profile struct {
	ID          int64  `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	PublicRepos int    `json:"publicRepos"`
}

func (p *Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Login
}

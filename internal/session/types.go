package session

import "time"

// Account is the authenticated backend account (GET /api/accounts/me).
type Account struct {
	ID                 string  `json:"id"`
	Channel            string  `json:"channel"`
	ExternalID         string  `json:"externalId"`
	ZapierMCPServerURL *string `json:"zapierMcpServerUrl"`
}

// EndReason records why a session stopped being usable.
type EndReason string

const (
	EndLogout   EndReason = "logout"
	EndExpired  EndReason = "expired"
	EndReplaced EndReason = "replaced"
)

// Snapshot is the UI-facing view of the session.
type Snapshot struct {
	SessionID string     `json:"session_id,omitempty"`
	Status    Status     `json:"status"`
	AccountID string     `json:"account_id,omitempty"`
	Account   *Account   `json:"account,omitempty"`
	StartedAt time.Time  `json:"started_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

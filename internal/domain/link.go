package domain

import "time"

// LinkRecord is a persisted secure link. Only ciphertext is stored; the
// resource ids are recoverable solely with the gateway key.
type LinkRecord struct {
	Handle       string
	Ciphertext   []byte
	CreatedAt    time.Time
	LastAccessed *time.Time
	ExpiresAt    time.Time
	AccessCount  int64
}

// Expired reports whether the link is past its expiry at now.
func (r LinkRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// LinkTarget is the decrypted content of a link.
type LinkTarget struct {
	ResourceID    string
	SubResourceID string
}

// IssuedLink is returned to callers of link issuance.
type IssuedLink struct {
	URL       string    `json:"url"`
	Handle    string    `json:"handle"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LinkStats summarizes the link store.
type LinkStats struct {
	Total        int   `json:"total_links"`
	Active       int   `json:"active_links"`
	Expired      int   `json:"expired_links"`
	TotalAccess  int64 `json:"total_accesses"`
	MostAccessed int64 `json:"most_accessed_count"`
}

package domain

import "time"

// Metadata types carried in capability tokens.
const (
	TokenTypeDocumentAccess = "document_access"
	TokenTypeLinkIssue      = "link_issue"
)

// TokenPayload is the verified content of a capability token.
type TokenPayload struct {
	Service       string
	ClientBinding string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Metadata      map[string]string
}

// MetadataType returns the "type" metadata entry.
func (p TokenPayload) MetadataType() string {
	return p.Metadata["type"]
}

// GrantsDocument reports whether the payload is a document-access grant for
// exactly (ns, ownerID, documentID).
func (p TokenPayload) GrantsDocument(ns Namespace, ownerID, documentID string) bool {
	if p.MetadataType() != TokenTypeDocumentAccess {
		return false
	}
	if raw, ok := p.Metadata["namespace"]; ok && raw != string(ns) {
		return false
	}
	return p.Metadata["owner_id"] == ownerID && p.Metadata["document_id"] == documentID
}

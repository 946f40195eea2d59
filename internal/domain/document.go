package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Namespace identifies an origin service whose documents are registered with the gateway.
type Namespace string

const (
	NamespaceFPD  Namespace = "fpd"
	NamespacePTAB Namespace = "ptab"
)

// Source tags emitted in X-Document-Source.
const (
	SourceNative = "USPTO"
	SourceFPD    = "FPD"
	SourcePTAB   = "PTAB"
)

var (
	petitionIDPattern   = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	proceedingPattern   = regexp.MustCompile(`^(IPR|PGR|CBM|DER)\d{4}-\d{5}$`)
	appealPattern       = regexp.MustCompile(`^\d{10}$`)
	linkHandlePattern   = regexp.MustCompile(`^[0-9a-f]{32}$`)
	documentIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)
	displayNamePattern  = regexp.MustCompile(`^[A-Za-z0-9_.-]+\.pdf$`)
	patentNumberPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,16}$`)
	documentTypePattern = regexp.MustCompile(`^[A-Za-z0-9_ .-]{1,64}$`)
	applicationSepRunes = strings.NewReplacer("/", "", ",", "", "-", "", " ", "")
)

const maxDisplayNameLen = 255

// Namespaces lists the registry namespaces in routing priority order.
func Namespaces() []Namespace {
	return []Namespace{NamespaceFPD, NamespacePTAB}
}

// ParseNamespace accepts the lower-case namespace marker used in request bodies.
func ParseNamespace(raw string) (Namespace, error) {
	switch Namespace(strings.ToLower(strings.TrimSpace(raw))) {
	case NamespaceFPD:
		return NamespaceFPD, nil
	case NamespacePTAB:
		return NamespacePTAB, nil
	default:
		return "", fmt.Errorf("%w: unknown namespace %q", ErrInvalidInput, raw)
	}
}

// MatchesOwner reports whether id has the owner-id shape of the namespace.
func (n Namespace) MatchesOwner(id string) bool {
	switch n {
	case NamespaceFPD:
		return petitionIDPattern.MatchString(id)
	case NamespacePTAB:
		return proceedingPattern.MatchString(id) || appealPattern.MatchString(id)
	default:
		return false
	}
}

// Source returns the X-Document-Source tag for the namespace.
func (n Namespace) Source() string {
	switch n {
	case NamespaceFPD:
		return SourceFPD
	case NamespacePTAB:
		return SourcePTAB
	default:
		return SourceNative
	}
}

// NamespaceForOwner returns the first namespace whose pattern matches id.
func NamespaceForOwner(id string) (Namespace, bool) {
	for _, ns := range Namespaces() {
		if ns.MatchesOwner(id) {
			return ns, true
		}
	}
	return "", false
}

// IsLinkHandle reports whether s has the shape of an opaque link handle.
func IsLinkHandle(s string) bool {
	return linkHandlePattern.MatchString(s)
}

// NormalizeApplicationNumber strips an optional US prefix and separators.
func NormalizeApplicationNumber(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "US")
	s = applicationSepRunes.Replace(s)
	if len(s) < 6 || len(s) > 12 {
		return "", fmt.Errorf("%w: application number %q", ErrInvalidInput, raw)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: application number %q", ErrInvalidInput, raw)
		}
	}
	return s, nil
}

// ValidateDocumentID rejects identifiers that could not have come from the filing API.
func ValidateDocumentID(id string) error {
	if !documentIDPattern.MatchString(id) {
		return fmt.Errorf("%w: document id %q", ErrInvalidInput, id)
	}
	return nil
}

// ValidateDisplayName checks an optional caller-supplied download filename.
func ValidateDisplayName(name string) error {
	if name == "" {
		return nil
	}
	if len(name) > maxDisplayNameLen || !displayNamePattern.MatchString(name) {
		return fmt.Errorf("%w: display name must match [A-Za-z0-9_.-]+.pdf and be at most %d characters", ErrInvalidInput, maxDisplayNameLen)
	}
	return nil
}

// ValidatePatentNumber checks an optional patent number. It ends up in the
// Content-Disposition filename, so only letters, digits and hyphens pass.
func ValidatePatentNumber(n string) error {
	if n == "" {
		return nil
	}
	if !patentNumberPattern.MatchString(n) {
		return fmt.Errorf("%w: patent number must match [A-Za-z0-9-] and be at most 16 characters", ErrInvalidInput)
	}
	return nil
}

// ValidateDocumentType checks an optional free-form document type label.
func ValidateDocumentType(t string) error {
	if t == "" {
		return nil
	}
	if !documentTypePattern.MatchString(t) {
		return fmt.Errorf("%w: document type must match [A-Za-z0-9_ .-] and be at most 64 characters", ErrInvalidInput)
	}
	return nil
}

// DocumentRecord is a registry row. SealedCredential is the gateway's own
// upstream credential, sealed with the link cipher.
type DocumentRecord struct {
	Namespace         Namespace
	OwnerID           string
	DocumentID        string
	FetchURL          string
	SealedCredential  []byte
	DisplayName       string
	ApplicationNumber string
	PatentNumber      string
	DocumentType      string
	RegisteredAt      time.Time
	ExpiresAt         time.Time
}

// Expired reports whether the record is past its expiry at now.
func (r DocumentRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// RegistryStats summarizes one namespace.
type RegistryStats struct {
	Namespace Namespace `json:"namespace"`
	Total     int       `json:"total_documents"`
	Active    int       `json:"active_documents"`
	Expired   int       `json:"expired_documents"`
}

// DownloadTarget is everything needed to stream one file to a caller.
type DownloadTarget struct {
	Source            string
	ResourceID        string
	DocumentID        string
	FetchURL          string
	Credential        string
	Filename          string
	ApplicationNumber string
	PatentNumber      string
	DocumentCode      string
	PageCount         int
}

// Headers returns the descriptive response headers for the target.
func (t DownloadTarget) Headers() map[string]string {
	h := map[string]string{
		"Content-Disposition":   fmt.Sprintf(`attachment; filename="%s"`, t.Filename),
		"X-Document-Source":     t.Source,
		"X-Document-Identifier": t.DocumentID,
	}
	switch t.Source {
	case SourceFPD:
		h["X-Petition-ID"] = t.ResourceID
	case SourcePTAB:
		h["X-Proceeding-Number"] = t.ResourceID
	}
	if t.ApplicationNumber != "" {
		h["X-Application-Number"] = t.ApplicationNumber
	}
	if t.DocumentCode != "" {
		h["X-Document-Code"] = t.DocumentCode
	}
	if t.PageCount > 0 {
		h["X-Page-Count"] = fmt.Sprintf("%d", t.PageCount)
	}
	return h
}

// FallbackFilename builds a filename when no display name was registered.
func FallbackFilename(source, resourceID, documentID, applicationNumber, patentNumber, documentCode string) string {
	parts := make([]string, 0, 4)
	switch source {
	case SourceFPD:
		owner := resourceID
		if len(owner) > 8 {
			owner = owner[:8]
		}
		parts = append(parts, owner)
		if applicationNumber != "" {
			parts = append(parts, applicationNumber)
		}
		parts = append(parts, documentID)
	case SourcePTAB:
		parts = append(parts, resourceID)
		if patentNumber != "" {
			parts = append(parts, "PAT-"+patentNumber)
		}
		parts = append(parts, documentID)
	default:
		parts = append(parts, resourceID, documentID)
		if documentCode != "" {
			parts = append(parts, documentCode)
		}
	}
	return strings.Join(parts, "_") + ".pdf"
}

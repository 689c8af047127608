// Package core defines the domain model and the interfaces shared across
// storage, cache, click tracking and the HTTP/IPC surfaces.
package core

import (
	"net/url"
	"strings"
	"time"
)

// ShortLink is the primary entity: a short code mapped to a target URL.
// Instances held in caches are snapshots; mutations go through storage
// followed by explicit cache invalidation.
type ShortLink struct {
	Code      string     `json:"code"`
	Target    string     `json:"target"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// Password holds an argon2id hash when set; never plaintext at rest.
	Password string `json:"password,omitempty"`
	Click    int64  `json:"click_count"`
}

// Expired reports whether the link has an expiration in the past.
func (l *ShortLink) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// CacheTTL returns the TTL a cache entry for this link should carry:
// the default, capped by the remaining lifetime. Returns false when the
// link is already expired and must not be cached as present.
func (l *ShortLink) CacheTTL(def time.Duration, now time.Time) (time.Duration, bool) {
	if l.ExpiresAt == nil {
		return def, true
	}
	remaining := l.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0, false
	}
	if remaining < def {
		return remaining, true
	}
	return def, true
}

// ClickDetail is an ephemeral per-click analytics event. Optional fields
// stay empty when the corresponding collection feature is disabled.
type ClickDetail struct {
	Code      string
	Timestamp time.Time
	Referrer  string
	UserAgent string
	IP        string
	Country   string
	City      string
	UTMSource string
}

// Source derives the aggregation source for this click: the UTM source
// if present, otherwise the referrer's registrable domain, otherwise
// "direct".
func (d *ClickDetail) Source() string {
	if d.UTMSource != "" {
		return d.UTMSource
	}
	if d.Referrer != "" {
		if host := RegistrableDomain(d.Referrer); host != "" {
			return "ref:" + host
		}
	}
	return "direct"
}

// RegistrableDomain extracts a best-effort registrable domain from a
// referrer URL: the last two host labels, or the whole host when it has
// fewer. Empty on unparseable input.
func RegistrableDomain(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if host == "" {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// LinkFilter narrows list, export and analytics queries.
type LinkFilter struct {
	Search        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	OnlyExpired   bool
	OnlyActive    bool
}

// LinkStats is the aggregate returned by the stats endpoint.
type LinkStats struct {
	TotalLinks  int64 `json:"total_links"`
	TotalClicks int64 `json:"total_clicks"`
	ActiveLinks int64 `json:"active_links"`
}

// ImportMode controls conflict handling during bulk import.
type ImportMode string

const (
	ImportSkip      ImportMode = "skip"
	ImportOverwrite ImportMode = "overwrite"
	ImportError     ImportMode = "error"
)

// ParseImportMode parses a mode token, defaulting to skip.
func ParseImportMode(s string) ImportMode {
	switch strings.ToLower(s) {
	case "overwrite":
		return ImportOverwrite
	case "error":
		return ImportError
	default:
		return ImportSkip
	}
}

const (
	// MaxCodeLength bounds short codes; codes are validated before any SQL.
	MaxCodeLength = 64
)

// IsValidCode reports whether code matches the allowed charset
// [A-Za-z0-9_-] and length 1..64. Codes are case-sensitive.
func IsValidCode(code string) bool {
	if len(code) == 0 || len(code) > MaxCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// ValidateTargetURL checks that target is an absolute http or https URL.
// Non-web schemes (javascript:, data:, ...) are rejected.
func ValidateTargetURL(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return NewValidationError("invalid URL: " + err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewValidationError("URL scheme must be http or https")
	}
	if u.Host == "" {
		return NewValidationError("URL must be absolute")
	}
	return nil
}

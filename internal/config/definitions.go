// Package config implements the persisted configuration store: a typed,
// code-defined schema, DB-backed values with change history, and the
// immutable runtime snapshot the hot path reads from.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueType declares how a stored string value is interpreted.
type ValueType string

const (
	TypeString ValueType = "string"
	TypeInt    ValueType = "int"
	TypeBool   ValueType = "bool"
	TypeJSON   ValueType = "json"
	TypeEnum   ValueType = "enum"
)

// Well-known configuration keys. The schema below is the single source
// of truth for defaults, types and validation; DB metadata is synced to
// match on startup.
const (
	KeyAdminToken  = "api.admin_token"
	KeyHealthToken = "api.health_token"

	KeyRandomCodeLength = "features.random_code_length"
	KeyDefaultURL       = "features.default_url"
	KeyEnableAdminPanel = "features.enable_admin_panel"

	KeyEnableTracking      = "click.enable_tracking"
	KeyFlushInterval       = "click.flush_interval"
	KeyMaxClicksBeforeFlush = "click.max_clicks_before_flush"

	KeyAdminPrefix  = "routes.admin_prefix"
	KeyHealthPrefix = "routes.health_prefix"

	KeyCORSEnabled        = "cors.enabled"
	KeyCORSAllowedOrigins = "cors.allowed_origins"

	KeyDetailedLogging = "analytics.enable_detailed_logging"
	KeyIPLogging       = "analytics.enable_ip_logging"
	KeyRetentionDays   = "analytics.retention_days"

	KeyCacheDefaultTTL  = "cache.default_ttl"
	KeyCacheObjectSize  = "cache.object_size"
	KeyCacheNegativeTTL = "cache.negative_ttl"
)

// Categories group keys for the schema listing endpoint.
const (
	CategoryAuth      = "auth"
	CategoryFeatures  = "features"
	CategoryTracking  = "tracking"
	CategoryRoutes    = "routes"
	CategoryCORS      = "cors"
	CategoryAnalytics = "analytics"
	CategoryCache     = "cache"
)

// Def declares one legitimate configuration key. Keys absent from the
// table are rejected by the store.
type Def struct {
	Key             string
	Type            ValueType
	Default         func() string
	EnumValues      []string
	RequiresRestart bool
	IsSensitive     bool
	Editable        bool
	Category        string
	Description     string
}

func staticDefault(v string) func() string {
	return func() string { return v }
}

// defaultToken generates a fresh random bearer token. Used once at first
// startup for api.admin_token; the plaintext is written to a 0600 file
// and only the argon2id hash is stored.
func defaultToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Defs is the full configuration schema.
var Defs = []Def{
	{
		Key:         KeyAdminToken,
		Type:        TypeString,
		Default:     defaultToken,
		IsSensitive: true,
		Editable:    true,
		Category:    CategoryAuth,
		Description: "Admin API authentication token (argon2id hashed)",
	},
	{
		Key:         KeyHealthToken,
		Type:        TypeString,
		Default:     staticDefault(""),
		IsSensitive: true,
		Editable:    true,
		Category:    CategoryAuth,
		Description: "Health check endpoint authentication token",
	},
	{
		Key:         KeyRandomCodeLength,
		Type:        TypeInt,
		Default:     staticDefault("6"),
		Editable:    true,
		Category:    CategoryFeatures,
		Description: "Length of randomly generated short codes",
	},
	{
		Key:         KeyDefaultURL,
		Type:        TypeString,
		Default:     staticDefault("https://example.com/"),
		Editable:    true,
		Category:    CategoryFeatures,
		Description: "Redirect target for the empty path",
	},
	{
		Key:             KeyEnableAdminPanel,
		Type:            TypeBool,
		Default:         staticDefault("true"),
		RequiresRestart: true,
		Editable:        true,
		Category:        CategoryFeatures,
		Description:     "Enable the admin API surface",
	},
	{
		Key:             KeyEnableTracking,
		Type:            TypeBool,
		Default:         staticDefault("true"),
		RequiresRestart: true,
		Editable:        true,
		Category:        CategoryTracking,
		Description:     "Enable click tracking and analytics",
	},
	{
		Key:             KeyFlushInterval,
		Type:            TypeInt,
		Default:         staticDefault("30"),
		RequiresRestart: true,
		Editable:        true,
		Category:        CategoryTracking,
		Description:     "Click buffer flush interval in seconds",
	},
	{
		Key:             KeyMaxClicksBeforeFlush,
		Type:            TypeInt,
		Default:         staticDefault("100"),
		RequiresRestart: true,
		Editable:        true,
		Category:        CategoryTracking,
		Description:     "Distinct codes buffered before an early flush",
	},
	{
		Key:             KeyAdminPrefix,
		Type:            TypeString,
		Default:         staticDefault("/admin/v1"),
		RequiresRestart: true,
		Editable:        true,
		Category:        CategoryRoutes,
		Description:     "Admin API route prefix",
	},
	{
		Key:             KeyHealthPrefix,
		Type:            TypeString,
		Default:         staticDefault("/health"),
		RequiresRestart: true,
		Editable:        true,
		Category:        CategoryRoutes,
		Description:     "Health check route prefix; not read by the router, which serves /health, /ready and /live at fixed paths",
	},
	{
		Key:             KeyCORSEnabled,
		Type:            TypeBool,
		Default:         staticDefault("false"),
		RequiresRestart: true,
		Editable:        true,
		Category:        CategoryCORS,
		Description:     "CORS toggle; stored and validated only, no CORS headers are emitted",
	},
	{
		Key:             KeyCORSAllowedOrigins,
		Type:            TypeJSON,
		Default:         staticDefault("[]"),
		RequiresRestart: true,
		Editable:        true,
		Category:        CategoryCORS,
		Description:     "Allowed origins as a JSON array; stored and validated only, no CORS headers are emitted",
	},
	{
		Key:         KeyDetailedLogging,
		Type:        TypeBool,
		Default:     staticDefault("false"),
		Editable:    true,
		Category:    CategoryAnalytics,
		Description: "Record per-click detail events (referrer, UA, geo)",
	},
	{
		Key:         KeyIPLogging,
		Type:        TypeBool,
		Default:     staticDefault("true"),
		Editable:    true,
		Category:    CategoryAnalytics,
		Description: "Include client IPs in detail events",
	},
	{
		Key:         KeyRetentionDays,
		Type:        TypeInt,
		Default:     staticDefault("90"),
		Editable:    true,
		Category:    CategoryAnalytics,
		Description: "Raw click log retention in days",
	},
	{
		Key:         KeyCacheDefaultTTL,
		Type:        TypeInt,
		Default:     staticDefault("900"),
		Editable:    true,
		Category:    CategoryCache,
		Description: "Object cache TTL in seconds",
	},
	{
		Key:             KeyCacheObjectSize,
		Type:            TypeInt,
		Default:         staticDefault("10000"),
		RequiresRestart: true,
		Editable:        true,
		Category:        CategoryCache,
		Description:     "Object cache entry bound",
	},
	{
		Key:         KeyCacheNegativeTTL,
		Type:        TypeInt,
		Default:     staticDefault("60"),
		Editable:    true,
		Category:    CategoryCache,
		Description: "Negative cache TTL in seconds",
	},
}

var defsByKey = func() map[string]*Def {
	m := make(map[string]*Def, len(Defs))
	for i := range Defs {
		m[Defs[i].Key] = &Defs[i]
	}
	return m
}()

// GetDef looks up the schema entry for a key.
func GetDef(key string) (*Def, bool) {
	def, ok := defsByKey[key]
	return def, ok
}

// AllKeys lists every schema key.
func AllKeys() []string {
	keys := make([]string, 0, len(Defs))
	for i := range Defs {
		keys = append(keys, Defs[i].Key)
	}
	return keys
}

// ValidateValue checks value against the declared type of def.
func ValidateValue(def *Def, value string) error {
	switch def.Type {
	case TypeInt:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return fmt.Errorf("value %q is not an integer", value)
		}
	case TypeBool:
		switch strings.ToLower(value) {
		case "true", "false", "1", "0", "yes", "no":
		default:
			return fmt.Errorf("value %q is not a boolean", value)
		}
	case TypeJSON:
		if !json.Valid([]byte(value)) {
			return fmt.Errorf("value is not valid JSON")
		}
	case TypeEnum:
		for _, allowed := range def.EnumValues {
			if value == allowed {
				return nil
			}
		}
		return fmt.Errorf("value %q is not one of %v", value, def.EnumValues)
	}
	return nil
}

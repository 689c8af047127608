package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/esap-cc/shortlinker/internal/config"
	"github.com/esap-cc/shortlinker/internal/core"
)

// ConfigHandler serves the configuration endpoints.
type ConfigHandler struct {
	store *config.Store
}

// NewConfigHandler wires the config surface.
func NewConfigHandler(store *config.Store) *ConfigHandler {
	return &ConfigHandler{store: store}
}

// configEntry is one schema+value row of the listing. Sensitive values
// are masked on the way out.
type configEntry struct {
	Key             string           `json:"key"`
	Value           string           `json:"value"`
	Type            config.ValueType `json:"value_type"`
	Default         string           `json:"default"`
	RequiresRestart bool             `json:"requires_restart"`
	IsSensitive     bool             `json:"is_sensitive"`
	Category        string           `json:"category"`
	Description     string           `json:"description"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// List handles GET /config: the full schema joined with current values.
func (h *ConfigHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.GetAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]configEntry, 0, len(config.Defs))
	for i := range config.Defs {
		def := &config.Defs[i]
		entry := configEntry{
			Key:             def.Key,
			Type:            def.Type,
			RequiresRestart: def.RequiresRestart,
			IsSensitive:     def.IsSensitive,
			Category:        def.Category,
			Description:     def.Description,
		}
		if !def.IsSensitive {
			entry.Default = def.Default()
		}
		if item, ok := items[def.Key]; ok {
			entry.UpdatedAt = item.UpdatedAt
			if def.IsSensitive {
				entry.Value = config.Redacted
			} else {
				entry.Value = item.Value
			}
		}
		out = append(out, entry)
	}
	writeData(w, http.StatusOK, out)
}

// Get handles GET /config/{key}.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	item, err := h.store.GetFull(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	if item.IsSensitive {
		item.Value = config.Redacted
	}
	writeData(w, http.StatusOK, item)
}

// Set handles PUT /config/{key}.
func (h *ConfigHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}

	result, err := h.store.Set(r.Context(), mux.Vars(r)["key"], req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.IsSensitive {
		result.Value = config.Redacted
		result.OldValue = nil
	}
	writeData(w, http.StatusOK, result)
}

// Reset handles POST /config/{key}/reset.
func (h *ConfigHandler) Reset(w http.ResponseWriter, r *http.Request) {
	result, err := h.store.Reset(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		writeError(w, err)
		return
	}
	if result.IsSensitive {
		result.Value = config.Redacted
		result.OldValue = nil
	}
	writeData(w, http.StatusOK, result)
}

// History handles GET /config/{key}/history.
func (h *ConfigHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query().Get("limit"), 50)
	entries, err := h.store.History(r.Context(), mux.Vars(r)["key"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

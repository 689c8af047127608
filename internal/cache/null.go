package cache

import (
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
)

// Null is a no-op composite cache for offline tooling (CLI fallback
// mode) where a cache would only add memory churn. Reads return Miss so
// every lookup goes to storage; BloomCheck answers true conservatively.
type Null struct{}

func NewNull() *Null { return &Null{} }

func (Null) Get(string) core.CacheResult {
	return core.CacheResult{Status: core.CacheMiss}
}

func (Null) Insert(string, *core.ShortLink, time.Duration) {}
func (Null) Remove(string)                                 {}
func (Null) MarkNotFound(string)                           {}
func (Null) BloomCheck(string) bool                        { return true }
func (Null) InvalidateAll()                                {}
func (Null) LoadCache(map[string]*core.ShortLink)          {}
func (Null) LoadBloom([]string)                            {}
func (Null) Reconfigure(core.BloomConfig)                  {}
func (Null) ReloadAll(core.BloomConfig, []string, map[string]*core.ShortLink) {}

var _ core.CompositeCache = Null{}

package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsValidCode(t *testing.T) {
	valid := []string{"a", "abc", "A-b_9", "x", "0123456789"}
	for _, c := range valid {
		assert.True(t, IsValidCode(c), c)
	}

	invalid := []string{"", "a b", "a/b", "héllo", "a.b", "../etc", string(make([]byte, 65))}
	for _, c := range invalid {
		assert.False(t, IsValidCode(c), c)
	}
}

func TestValidateTargetURL(t *testing.T) {
	assert.NoError(t, ValidateTargetURL("https://example.com/"))
	assert.NoError(t, ValidateTargetURL("http://example.com/path?q=1"))

	for _, bad := range []string{
		"javascript:alert(1)",
		"data:text/html,hi",
		"ftp://example.com/",
		"example.com",
		"/relative",
		"",
	} {
		assert.Error(t, ValidateTargetURL(bad), bad)
	}
}

func TestShortLinkExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.False(t, (&ShortLink{}).Expired(now))
	assert.True(t, (&ShortLink{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&ShortLink{ExpiresAt: &future}).Expired(now))
}

func TestCacheTTLCappedByRemainingLifetime(t *testing.T) {
	now := time.Now().UTC()
	soon := now.Add(time.Minute)
	link := &ShortLink{ExpiresAt: &soon}

	ttl, ok := link.CacheTTL(15*time.Minute, now)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, ttl)

	past := now.Add(-time.Second)
	expired := &ShortLink{ExpiresAt: &past}
	_, ok = expired.CacheTTL(15*time.Minute, now)
	assert.False(t, ok)

	ttl, ok = (&ShortLink{}).CacheTTL(15*time.Minute, now)
	assert.True(t, ok)
	assert.Equal(t, 15*time.Minute, ttl)
}

func TestClickDetailSource(t *testing.T) {
	d := &ClickDetail{UTMSource: "newsletter"}
	assert.Equal(t, "newsletter", d.Source())

	d = &ClickDetail{Referrer: "https://news.ycombinator.com/item?id=1"}
	assert.Equal(t, "ref:ycombinator.com", d.Source())

	d = &ClickDetail{}
	assert.Equal(t, "direct", d.Source())
}

func TestKindMatching(t *testing.T) {
	err := NewNotFoundError("link not found")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(assert.AnError))
}

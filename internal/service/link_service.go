// Package service contains the business logic between the HTTP/IPC
// surfaces and storage: link CRUD with validation and password hashing,
// bulk import/export, and health reporting.
package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/pkg/password"
	"github.com/esap-cc/shortlinker/pkg/timeparse"
)

const (
	// randomCodeCharset excludes _ and - so generated codes stay
	// double-click selectable.
	randomCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// codeGenAttemptsPerLength bounds collision retries before the
	// generated length grows by one.
	codeGenAttemptsPerLength = 5
	maxGeneratedLength       = 16
)

// LinkService implements link CRUD on top of storage and keeps the
// composite cache coherent after every mutation.
type LinkService struct {
	storage core.LinkStorage
	cache   core.CompositeCache
	logger  *slog.Logger
	now     func() time.Time
}

// NewLinkService wires the service. cache may be a cache.Null for
// offline tooling.
func NewLinkService(st core.LinkStorage, cache core.CompositeCache, logger *slog.Logger) *LinkService {
	return &LinkService{
		storage: st,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateRequest carries the fields for a new link. Code empty means
// generate one. ExpiresAt accepts RFC3339 or relative ("1d2h30m") forms.
type CreateRequest struct {
	Code      string `json:"code"`
	Target    string `json:"target"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Password  string `json:"password,omitempty"`
	Force     bool   `json:"force,omitempty"`
	// CodeLength sets the generated code length when > 0; otherwise 6 is
	// used. features.random_code_length is not consulted.
	CodeLength int `json:"-"`
}

// Create validates and stores a new link. On an existing code the
// request fails with conflict unless Force is set, in which case target,
// expiry and password are overwritten while created_at and click_count
// are preserved.
func (s *LinkService) Create(ctx context.Context, req CreateRequest) (*core.ShortLink, error) {
	if err := core.ValidateTargetURL(req.Target); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expiresAt, err := s.parseExpiry(req.ExpiresAt, now)
	if err != nil {
		return nil, err
	}

	code := req.Code
	if code == "" {
		code, err = s.generateCode(ctx, req.CodeLength)
		if err != nil {
			return nil, err
		}
	} else if !core.IsValidCode(code) {
		return nil, core.NewValidationError("invalid short code: " + code)
	}

	existing, err := s.storage.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if existing != nil && !req.Force {
		return nil, core.NewConflictError("short code already exists: " + code)
	}

	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	link := &core.ShortLink{
		Code:      code,
		Target:    req.Target,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Password:  hash,
	}
	if existing != nil {
		// Overwrite keeps the original creation time and counter.
		link.CreatedAt = existing.CreatedAt
		link.Click = existing.Click
	}

	if err := s.storage.Upsert(ctx, link); err != nil {
		return nil, err
	}
	s.publishToCache(link, now)

	s.logger.Info("Link created",
		"code", code,
		"overwrite", existing != nil,
	)
	return link, nil
}

// UpdateRequest merges onto an existing link. Nil fields keep the
// current value; an explicitly empty password removes it.
type UpdateRequest struct {
	Target    *string `json:"target,omitempty"`
	ExpiresAt *string `json:"expires_at,omitempty"`
	Password  *string `json:"password,omitempty"`
}

// Update modifies an existing link, 404ing when absent.
func (s *LinkService) Update(ctx context.Context, code string, req UpdateRequest) (*core.ShortLink, error) {
	if !core.IsValidCode(code) {
		return nil, core.NewValidationError("invalid short code: " + code)
	}
	existing, err := s.storage.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, core.NewNotFoundError("short link not found: " + code)
	}

	now := s.now().UTC()
	link := *existing

	if req.Target != nil {
		if err := core.ValidateTargetURL(*req.Target); err != nil {
			return nil, err
		}
		link.Target = *req.Target
	}
	if req.ExpiresAt != nil {
		if *req.ExpiresAt == "" {
			link.ExpiresAt = nil
		} else {
			expiresAt, err := s.parseExpiry(*req.ExpiresAt, now)
			if err != nil {
				return nil, err
			}
			link.ExpiresAt = expiresAt
		}
	}
	if req.Password != nil {
		if *req.Password == "" {
			link.Password = ""
		} else {
			hash, err := s.hashPassword(*req.Password)
			if err != nil {
				return nil, err
			}
			link.Password = hash
		}
	}

	if err := s.storage.Upsert(ctx, &link); err != nil {
		return nil, err
	}
	s.publishToCache(&link, now)
	return &link, nil
}

// Get fetches a link, 404ing when absent.
func (s *LinkService) Get(ctx context.Context, code string) (*core.ShortLink, error) {
	if !core.IsValidCode(code) {
		return nil, core.NewValidationError("invalid short code: " + code)
	}
	link, err := s.storage.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, core.NewNotFoundError("short link not found: " + code)
	}
	return link, nil
}

// Delete removes a link and evicts it from the cache.
func (s *LinkService) Delete(ctx context.Context, code string) error {
	if !core.IsValidCode(code) {
		return core.NewValidationError("invalid short code: " + code)
	}
	if err := s.storage.Delete(ctx, code); err != nil {
		return err
	}
	s.cache.Remove(code)
	s.cache.MarkNotFound(code)
	s.logger.Info("Link deleted", "code", code)
	return nil
}

// BatchDelete removes multiple links, returning per-code failures.
func (s *LinkService) BatchDelete(ctx context.Context, codes []string) (deleted int, failed map[string]string) {
	failed = make(map[string]string)
	for _, code := range codes {
		if err := s.Delete(ctx, code); err != nil {
			failed[code] = err.Error()
			continue
		}
		deleted++
	}
	return deleted, failed
}

// List returns one page of links plus the filtered total.
func (s *LinkService) List(ctx context.Context, filter core.LinkFilter, page, pageSize int) ([]*core.ShortLink, int64, error) {
	return s.storage.ListPaginated(ctx, filter, page, pageSize)
}

// Stats returns aggregate totals.
func (s *LinkService) Stats(ctx context.Context) (*core.LinkStats, error) {
	return s.storage.Stats(ctx)
}

func (s *LinkService) parseExpiry(input string, now time.Time) (*time.Time, error) {
	if input == "" {
		return nil, nil
	}
	t, err := timeparse.ParseExpireTime(input, now)
	if err != nil {
		return nil, core.NewValidationError("invalid expiration: " + err.Error())
	}
	if !t.After(now) {
		return nil, core.NewValidationError("expiration must be in the future")
	}
	return &t, nil
}

func (s *LinkService) hashPassword(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	if password.IsHashed(plain) {
		return plain, nil
	}
	hash, err := password.Hash(plain)
	if err != nil {
		return "", core.NewInternalError("failed to hash password", err)
	}
	return hash, nil
}

func (s *LinkService) publishToCache(link *core.ShortLink, now time.Time) {
	ttl, ok := link.CacheTTL(cacheDefaultTTL, now)
	if !ok {
		s.cache.Remove(link.Code)
		s.cache.MarkNotFound(link.Code)
		return
	}
	snapshot := *link
	s.cache.Insert(link.Code, &snapshot, ttl)
}

const cacheDefaultTTL = 15 * time.Minute

// generateCode draws random codes, growing the length after repeated
// collisions so dense namespaces still converge quickly.
func (s *LinkService) generateCode(ctx context.Context, length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	for ; length <= maxGeneratedLength; length++ {
		for attempt := 0; attempt < codeGenAttemptsPerLength; attempt++ {
			code, err := randomCode(length)
			if err != nil {
				return "", core.NewInternalError("failed to generate code", err)
			}
			existing, err := s.storage.Get(ctx, code)
			if err != nil {
				return "", err
			}
			if existing == nil {
				return code, nil
			}
		}
		s.logger.Debug("Code space dense, growing generated length", "next_length", length+1)
	}
	return "", core.NewInternalError(
		fmt.Sprintf("could not find a free code up to length %d", maxGeneratedLength), nil)
}

func randomCode(length int) (string, error) {
	var sb strings.Builder
	sb.Grow(length)
	max := big.NewInt(int64(len(randomCodeCharset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(randomCodeCharset[n.Int64()])
	}
	return sb.String(), nil
}

package webhook

import (
	"context"
	"log/slog"
	"time"

	"inbox_backend/internal/inbox/domain"
	"inbox_backend/platform/logger"
	"inbox_backend/platform/phone"

	"github.com/google/uuid"
)

// PrivacyLookup asks a gateway for the number behind a privacy id.
type PrivacyLookup interface {
	ResolvePrivacyID(ctx context.Context, inst domain.Instance, id string) (string, error)
}

// IdentityCache remembers resolved privacy ids per instance.
type IdentityCache interface {
	Get(ctx context.Context, instanceID uuid.UUID, privacyID string) (string, bool, error)
	Set(ctx context.Context, instanceID uuid.UUID, privacyID, phone string) error
}

// IdentityResolver turns chat ids into canonical phones, resolving privacy ids
// from the payload, the cache and finally the gateway.
type IdentityResolver struct {
	lookup  PrivacyLookup
	cache   IdentityCache
	timeout time.Duration
	log     *logger.Logger
}

// NewIdentityResolver wires the resolver. lookup and cache are optional.
func NewIdentityResolver(lookup PrivacyLookup, cache IdentityCache, timeout time.Duration, log *logger.Logger) *IdentityResolver {
	return &IdentityResolver{lookup: lookup, cache: cache, timeout: timeout, log: log.WithComponent("identity")}
}

// Resolve returns the canonical phone for chatID. resolved is false only for
// privacy ids no source could map, in which case the opaque id is returned.
func (r *IdentityResolver) Resolve(ctx context.Context, inst domain.Instance, chatID string, alternates []string) (c phone.Canonical, resolved bool) {
	if !phone.IsOpaqueID(chatID) {
		return phone.Canonicalize(chatID), true
	}
	opaque := phone.Canonicalize(chatID)

	for _, alt := range alternates {
		if usable(alt) {
			return phone.Canonicalize(alt), true
		}
	}

	key := opaque.Digits
	if r.cache != nil {
		cached, ok, err := r.cache.Get(ctx, inst.ID, key)
		if err != nil {
			r.log.CollaboratorFailure("identity_cache", "get", err)
		} else if ok && usable(cached) {
			return phone.Canonicalize(cached), true
		}
	}

	if r.lookup == nil {
		return opaque, false
	}
	lookupCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	found, err := r.lookup.ResolvePrivacyID(lookupCtx, inst, chatID)
	if err != nil {
		r.log.CollaboratorFailure("gateway", "resolve_privacy_id", err)
		return opaque, false
	}
	if !usable(found) {
		return opaque, false
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, inst.ID, key, found); err != nil {
			r.log.CollaboratorFailure("identity_cache", "set", err)
		}
	}
	r.log.Debug("identity: privacy id resolved",
		slog.String("instance", inst.Name),
		slog.String("source", "gateway"),
	)
	return phone.Canonicalize(found), true
}

func usable(id string) bool {
	return id != "" && !phone.IsOpaqueID(id) && phone.Digits(id) != ""
}

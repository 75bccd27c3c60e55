package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"inbox_backend/internal/events"
	"inbox_backend/internal/inbox/domain"
	"inbox_backend/internal/inbox/repository"
	"inbox_backend/platform/logger"
	"inbox_backend/platform/phone"
	"inbox_backend/platform/sanitize"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	leadSourceWhatsApp = "whatsapp"

	suffixLong      = 8
	suffixShort     = 7
	suffixWithName  = 4
	suffixCandidate = 10
	minNameLength   = 3
)

// ContactLookup is the part of the gateway client used to enrich leads.
type ContactLookup interface {
	ContactName(ctx context.Context, inst domain.Instance, chatID string) (string, error)
	ProfilePicture(ctx context.Context, inst domain.Instance, chatID string) (string, error)
}

// MatchInput describes the identity a message came from or went to.
type MatchInput struct {
	Instance    domain.Instance
	Phone       phone.Canonical
	ChatID      string
	DisplayName string
	Direction   domain.Direction
	At          time.Time
}

// LeadMatcher finds the lead behind a canonical phone, creating it when no
// stored row matches.
type LeadMatcher struct {
	store         repository.LeadStore
	contacts      ContactLookup
	bus           events.Bus
	lookupTimeout time.Duration
	log           *logger.Logger
}

// NewLeadMatcher wires the matcher. contacts may be nil, in which case leads
// are never enriched from the gateway.
func NewLeadMatcher(store repository.LeadStore, contacts ContactLookup, bus events.Bus, lookupTimeout time.Duration, log *logger.Logger) *LeadMatcher {
	return &LeadMatcher{
		store:         store,
		contacts:      contacts,
		bus:           bus,
		lookupTimeout: lookupTimeout,
		log:           log.WithComponent("leads"),
	}
}

// Match returns the lead for in, creating it when needed. created reports
// whether this call inserted the row.
func (m *LeadMatcher) Match(ctx context.Context, in MatchInput) (domain.Lead, bool, error) {
	if in.Phone.Digits == "" {
		return domain.Lead{}, false, errors.New("match lead: empty phone")
	}
	tenantID := in.Instance.TenantID
	reported := m.reportedName(in)

	lead, err := m.find(ctx, tenantID, in.Phone, reported)
	if err == nil {
		lead, err = m.refresh(ctx, in, lead, reported)
		return lead, false, err
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.Lead{}, false, err
	}

	name, avatar := reported, ""
	if name == "" {
		name, avatar = m.enrich(ctx, in, true, true)
	} else {
		_, avatar = m.enrich(ctx, in, false, true)
	}
	if name == "" {
		name = domain.PlaceholderName(in.Phone.FullNumber)
	}

	params := repository.UpsertLeadParams{
		TenantID:    tenantID,
		Phone:       storedPhone(in.Phone),
		CountryCode: in.Phone.CountryCode,
		Name:        name,
		AvatarURL:   optional(avatar),
		Source:      leadSourceWhatsApp,
		At:          in.At,
	}

	var inserted bool
	lead, _, err = repository.CreateOrFind(ctx,
		func(ctx context.Context) (domain.Lead, error) {
			l, created, err := m.store.UpsertLead(ctx, params)
			inserted = created
			return l, err
		},
		func(ctx context.Context) (domain.Lead, error) {
			return m.find(ctx, tenantID, in.Phone, reported)
		},
	)
	if err != nil {
		return domain.Lead{}, false, fmt.Errorf("create lead: %w", err)
	}

	if !inserted {
		lead, err = m.refresh(ctx, in, lead, reported)
		return lead, false, err
	}

	m.log.Info("leads: created",
		slog.String("lead_id", lead.ID.String()),
		slog.String("country_code", lead.CountryCode),
		slog.Bool("opaque", in.Phone.Opaque),
	)
	if m.bus != nil {
		m.bus.Publish(ctx, events.LeadCreated{
			BaseEvent:   events.NewBaseEvent(),
			LeadID:      lead.ID,
			TenantID:    lead.TenantID,
			InstanceID:  in.Instance.ID,
			Phone:       lead.Phone,
			CountryCode: lead.CountryCode,
			Name:        lead.Name,
			Source:      lead.Source,
		})
	}
	return lead, true, nil
}

// find runs the lookup tiers. Opaque identifiers and domestic numbers that
// fail validation only ever match exactly.
func (m *LeadMatcher) find(ctx context.Context, tenantID uuid.UUID, c phone.Canonical, name string) (domain.Lead, error) {
	leads, err := m.store.FindLeadsByPhones(ctx, tenantID, phone.Variants(c))
	if err != nil {
		return domain.Lead{}, fmt.Errorf("find lead by variants: %w", err)
	}
	if len(leads) > 0 {
		return closest(leads, c.FullNumber), nil
	}
	if !fuzzyMatchable(c) {
		return domain.Lead{}, repository.ErrNotFound
	}

	number := c.FullNumber
	for _, n := range []int{suffixLong, suffixShort} {
		if len(number) < n {
			continue
		}
		leads, err := m.store.FindLeadsByPhoneSuffix(ctx, tenantID, phone.Suffix(number, n), suffixCandidate)
		if err != nil {
			return domain.Lead{}, fmt.Errorf("find lead by suffix: %w", err)
		}
		if len(leads) > 0 {
			return closest(leads, number), nil
		}
	}

	if len(name) >= minNameLength && len(number) >= suffixWithName {
		leads, err := m.store.FindLeadsBySuffixAndName(ctx, tenantID, phone.Suffix(number, suffixWithName), name, suffixCandidate)
		if err != nil {
			return domain.Lead{}, fmt.Errorf("find lead by name: %w", err)
		}
		if len(leads) > 0 {
			return closest(leads, number), nil
		}
	}
	return domain.Lead{}, repository.ErrNotFound
}

// refresh records the interaction, promotes a placeholder name and fills a
// missing avatar.
func (m *LeadMatcher) refresh(ctx context.Context, in MatchInput, lead domain.Lead, reported string) (domain.Lead, error) {
	params := repository.TouchLeadParams{LeadID: lead.ID, At: in.At}

	canPromote := in.Direction == domain.DirectionInbound && lead.PendingVerification()
	needName := canPromote && reported == ""
	needAvatar := lead.AvatarURL == nil
	fetchedName, avatar := m.enrich(ctx, in, needName, needAvatar)

	if canPromote {
		if name := firstNonEmpty(reported, fetchedName); name != "" {
			params.Name = &name
		}
	}
	params.AvatarURL = optional(avatar)

	updated, err := m.store.TouchLead(ctx, params)
	if err != nil {
		return lead, fmt.Errorf("touch lead: %w", err)
	}
	if params.Name != nil {
		m.log.Info("leads: name promoted", slog.String("lead_id", lead.ID.String()))
	}
	return updated, nil
}

// enrich asks the gateway for the contact's name and picture concurrently.
// Failures are logged and yield empty values.
func (m *LeadMatcher) enrich(ctx context.Context, in MatchInput, needName, needAvatar bool) (name, avatar string) {
	if m.contacts == nil || (!needName && !needAvatar) || in.Phone.Opaque {
		return "", ""
	}
	chatID := contactChatID(in)

	var g errgroup.Group
	if needName {
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(ctx, m.lookupTimeout)
			defer cancel()
			got, err := m.contacts.ContactName(lctx, in.Instance, chatID)
			if err != nil {
				m.log.CollaboratorFailure("gateway", "contact_name", err)
				return nil
			}
			if clean := sanitize.DisplayName(got); !domain.IsPlaceholderName(clean) {
				name = clean
			}
			return nil
		})
	}
	if needAvatar {
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(ctx, m.lookupTimeout)
			defer cancel()
			got, err := m.contacts.ProfilePicture(lctx, in.Instance, chatID)
			if err != nil {
				m.log.CollaboratorFailure("gateway", "profile_picture", err)
				return nil
			}
			avatar = strings.TrimSpace(got)
			return nil
		})
	}
	_ = g.Wait()
	return name, avatar
}

// reportedName is the sender's display name when it can name the lead.
// Outbound events carry the business account's own name, never the lead's.
func (m *LeadMatcher) reportedName(in MatchInput) string {
	if in.Direction != domain.DirectionInbound {
		return ""
	}
	name := sanitize.DisplayName(in.DisplayName)
	if domain.IsPlaceholderName(name) {
		return ""
	}
	return name
}

// closest picks the lead sharing the longest trailing digit run with number.
func closest(leads []domain.Lead, number string) domain.Lead {
	best, bestRun := leads[0], -1
	for _, l := range leads {
		run := phone.CommonTrailingDigits(l.CountryCode+l.Phone, number)
		if alt := phone.CommonTrailingDigits(l.Phone, number); alt > run {
			run = alt
		}
		if run > bestRun {
			best, bestRun = l, run
		}
	}
	return best
}

// fuzzyMatchable reports whether c may be matched on trailing digits.
func fuzzyMatchable(c phone.Canonical) bool {
	return !c.Opaque && (c.Valid || !c.Domestic)
}

func storedPhone(c phone.Canonical) string {
	if c.Opaque || c.LocalNumber == "" {
		return c.Digits
	}
	return c.LocalNumber
}

func contactChatID(in MatchInput) string {
	if in.ChatID != "" && !phone.IsOpaqueID(in.ChatID) {
		return in.ChatID
	}
	if in.Instance.Provider == domain.ProviderEvolution {
		return in.Phone.FullNumber + "@s.whatsapp.net"
	}
	return in.Phone.FullNumber + "@c.us"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

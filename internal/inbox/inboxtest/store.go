// Package inboxtest provides an in-memory repository.Store for tests. It
// enforces the same uniqueness rules as the SQL schema so race recovery paths
// can be exercised without a database.
package inboxtest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"inbox_backend/internal/inbox/domain"
	"inbox_backend/internal/inbox/repository"

	"github.com/google/uuid"
)

type Store struct {
	mu            sync.Mutex
	instances     []domain.Instance
	leads         []domain.Lead
	conversations []domain.Conversation
	messages      []domain.Message

	// BeforeInsertMessage, when set, runs before the uniqueness check of
	// InsertMessage. Tests use it to inject a concurrent writer.
	BeforeInsertMessage func(p repository.InsertMessageParams)
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// AddInstance registers a channel instance, filling the id if empty.
func (s *Store) AddInstance(inst domain.Instance) domain.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	s.instances = append(s.instances, inst)
	return inst
}

// AddLead stores a lead directly, bypassing the matcher.
func (s *Store) AddLead(l domain.Lead) domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	now := time.Now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	s.leads = append(s.leads, l)
	return l
}

// AddConversation stores a conversation directly.
func (s *Store) AddConversation(c domain.Conversation) domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	s.conversations = append(s.conversations, c)
	return c
}

func (s *Store) Leads() []domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Lead(nil), s.leads...)
}

func (s *Store) Conversations() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Conversation(nil), s.conversations...)
}

func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// --- InstanceReader ---

func (s *Store) FindInstancesBySession(_ context.Context, session string) ([]domain.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Instance
	for _, inst := range s.instances {
		if inst.IsActive && (strings.EqualFold(inst.SessionName, session) || strings.EqualFold(inst.Name, session)) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (s *Store) FindAnyActiveInstance(_ context.Context, provider domain.Provider) (domain.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances {
		if inst.IsActive && (provider == "" || inst.Provider == provider) {
			return inst, nil
		}
	}
	return domain.Instance{}, repository.ErrNotFound
}

// --- LeadStore ---

func (s *Store) FindLeadsByPhones(_ context.Context, tenantID uuid.UUID, phones []string) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Lead
	for _, phone := range phones {
		for _, l := range s.leads {
			if l.TenantID == tenantID && l.Phone == phone {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

func (s *Store) FindLeadsByPhoneSuffix(_ context.Context, tenantID uuid.UUID, suffix string, limit int) ([]domain.Lead, error) {
	return s.filterLeads(tenantID, limit, func(l domain.Lead) bool {
		return strings.HasSuffix(l.Phone, suffix)
	}), nil
}

func (s *Store) FindLeadsBySuffixAndName(_ context.Context, tenantID uuid.UUID, suffix, name string, limit int) ([]domain.Lead, error) {
	needle := strings.ToLower(name)
	return s.filterLeads(tenantID, limit, func(l domain.Lead) bool {
		return strings.HasSuffix(l.Phone, suffix) && strings.Contains(strings.ToLower(l.Name), needle)
	}), nil
}

func (s *Store) filterLeads(tenantID uuid.UUID, limit int, keep func(domain.Lead) bool) []domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Lead
	for _, l := range s.leads {
		if l.TenantID == tenantID && keep(l) {
			out = append(out, l)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

func (s *Store) UpsertLead(_ context.Context, p repository.UpsertLeadParams) (domain.Lead, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.leads {
		if l.TenantID == p.TenantID && l.Phone == p.Phone {
			if p.At.After(l.LastInteractionAt) {
				s.leads[i].LastInteractionAt = p.At
			}
			s.leads[i].UpdatedAt = time.Now()
			return s.leads[i], false, nil
		}
	}
	now := time.Now()
	l := domain.Lead{
		ID:                uuid.New(),
		TenantID:          p.TenantID,
		Phone:             p.Phone,
		CountryCode:       p.CountryCode,
		Name:              p.Name,
		AvatarURL:         p.AvatarURL,
		Source:            p.Source,
		LastInteractionAt: p.At,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.leads = append(s.leads, l)
	return l, true, nil
}

func (s *Store) TouchLead(_ context.Context, p repository.TouchLeadParams) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.leads {
		l := &s.leads[i]
		if l.ID != p.LeadID {
			continue
		}
		if p.At.After(l.LastInteractionAt) {
			l.LastInteractionAt = p.At
		}
		if p.Name != nil {
			l.Name = *p.Name
		}
		if l.AvatarURL == nil && p.AvatarURL != nil {
			l.AvatarURL = p.AvatarURL
		}
		l.UpdatedAt = time.Now()
		return *l, nil
	}
	return domain.Lead{}, repository.ErrNotFound
}

// --- ConversationStore ---

func sameInstance(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func isActive(status domain.ConversationStatus) bool {
	return status == domain.ConversationOpen || status == domain.ConversationPending
}

func (s *Store) pickConversation(keep func(domain.Conversation) bool) (domain.Conversation, error) {
	var candidates []domain.Conversation
	for _, c := range s.conversations {
		if keep(c) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return domain.Conversation{}, repository.ErrNotFound
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ai, aj := isActive(candidates[i].Status), isActive(candidates[j].Status)
		if ai != aj {
			return ai
		}
		return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
	})
	return candidates[0], nil
}

func (s *Store) FindConversation(_ context.Context, leadID uuid.UUID, instanceID *uuid.UUID) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pickConversation(func(c domain.Conversation) bool {
		return c.LeadID == leadID && sameInstance(c.InstanceID, instanceID)
	})
}

func (s *Store) FindLatestConversationForLead(_ context.Context, leadID uuid.UUID) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pickConversation(func(c domain.Conversation) bool { return c.LeadID == leadID })
}

// activeConflict mirrors the partial unique index on lead_id and the
// instance, where a NULL instance counts as one value.
func (s *Store) activeConflict(leadID uuid.UUID, instanceID *uuid.UUID, except uuid.UUID) bool {
	for _, c := range s.conversations {
		if c.ID != except && c.LeadID == leadID && sameInstance(c.InstanceID, instanceID) && isActive(c.Status) {
			return true
		}
	}
	return false
}

func (s *Store) InsertConversation(_ context.Context, p repository.InsertConversationParams) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeConflict(p.LeadID, p.InstanceID, uuid.Nil) {
		return domain.Conversation{}, repository.ErrConflict
	}
	now := time.Now()
	c := domain.Conversation{
		ID:            uuid.New(),
		TenantID:      p.TenantID,
		LeadID:        p.LeadID,
		InstanceID:    p.InstanceID,
		Status:        domain.ConversationOpen,
		LastMessageAt: p.At,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.conversations = append(s.conversations, c)
	return c, nil
}

func (s *Store) ReopenConversation(_ context.Context, id uuid.UUID, at time.Time) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		c := &s.conversations[i]
		if c.ID != id {
			continue
		}
		if s.activeConflict(c.LeadID, c.InstanceID, c.ID) {
			return domain.Conversation{}, repository.ErrConflict
		}
		c.Status = domain.ConversationOpen
		if at.After(c.LastMessageAt) {
			c.LastMessageAt = at
		}
		c.UpdatedAt = time.Now()
		return *c, nil
	}
	return domain.Conversation{}, repository.ErrNotFound
}

func (s *Store) TouchConversation(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			if at.After(s.conversations[i].LastMessageAt) {
				s.conversations[i].LastMessageAt = at
			}
			s.conversations[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return repository.ErrNotFound
}

// --- MessageStore ---

func (s *Store) FindMessageByExternalID(_ context.Context, externalID string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ExternalID == externalID {
			return m, nil
		}
	}
	return domain.Message{}, repository.ErrNotFound
}

func (s *Store) FindMessageByExternalIDLike(_ context.Context, fragment string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if strings.Contains(s.messages[i].ExternalID, fragment) {
			return s.messages[i], nil
		}
	}
	return domain.Message{}, repository.ErrNotFound
}

func (s *Store) InsertMessage(_ context.Context, p repository.InsertMessageParams) (domain.Message, error) {
	if s.BeforeInsertMessage != nil {
		s.BeforeInsertMessage(p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ExternalID == p.ExternalID {
			return domain.Message{}, repository.ErrConflict
		}
	}
	now := time.Now()
	m := domain.Message{
		ID:             uuid.New(),
		TenantID:       p.TenantID,
		ConversationID: p.ConversationID,
		LeadID:         p.LeadID,
		InstanceID:     p.InstanceID,
		Direction:      p.Direction,
		Type:           p.Type,
		Content:        p.Content,
		Status:         p.Status,
		ExternalID:     p.ExternalID,
		RawExternalID:  p.RawExternalID,
		MediaRef:       p.MediaRef,
		MediaMimeType:  p.MediaMimeType,
		Quoted:         p.Quoted,
		SenderName:     p.SenderName,
		SentAt:         p.SentAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.messages = append(s.messages, m)
	return m, nil
}

// InsertRawMessage stores m as is. Tests use it to seed legacy rows.
func (s *Store) InsertRawMessage(m domain.Message) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	s.messages = append(s.messages, m)
	return m
}

func (s *Store) AttachMedia(_ context.Context, id uuid.UUID, mediaRef, mimeType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		m := &s.messages[i]
		if m.ID != id {
			continue
		}
		if m.MediaRef != nil {
			return false, nil
		}
		ref := mediaRef
		m.MediaRef = &ref
		if mimeType != "" {
			mt := mimeType
			m.MediaMimeType = &mt
		}
		m.UpdatedAt = time.Now()
		return true, nil
	}
	return false, nil
}

func (s *Store) AdvanceStatus(_ context.Context, id uuid.UUID, status domain.MessageStatus) (domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		m := &s.messages[i]
		if m.ID != id {
			continue
		}
		if m.Status.Rank() >= status.Rank() {
			return *m, false, nil
		}
		m.Status = status
		m.UpdatedAt = time.Now()
		return *m, true, nil
	}
	return domain.Message{}, false, repository.ErrNotFound
}

func (s *Store) GetMessage(_ context.Context, tenantID, id uuid.UUID) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id && m.TenantID == tenantID {
			return m, nil
		}
	}
	return domain.Message{}, repository.ErrNotFound
}

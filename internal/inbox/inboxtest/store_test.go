package inboxtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"inbox_backend/internal/inbox/domain"
	"inbox_backend/internal/inbox/repository"

	"github.com/google/uuid"
)

func TestActiveConversationUniquePerLeadAndInstance(t *testing.T) {
	s := New()
	ctx := context.Background()
	leadID := uuid.New()
	instanceID := uuid.New()

	for _, inst := range []*uuid.UUID{nil, &instanceID} {
		params := repository.InsertConversationParams{TenantID: uuid.New(), LeadID: leadID, InstanceID: inst, At: time.Now()}
		if _, err := s.InsertConversation(ctx, params); err != nil {
			t.Fatalf("first insert failed: %v", err)
		}
		if _, err := s.InsertConversation(ctx, params); !errors.Is(err, repository.ErrConflict) {
			t.Fatalf("second active conversation for instance %v: expected conflict, got %v", inst, err)
		}
	}

	if n := len(s.Conversations()); n != 2 {
		t.Fatalf("expected two conversations, got %d", n)
	}
	for _, c := range s.Conversations() {
		if c.Status != domain.ConversationOpen {
			t.Fatalf("unexpected status %s", c.Status)
		}
	}
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"inbox_backend/internal/events"
	"inbox_backend/internal/inbox/domain"
	"inbox_backend/internal/inbox/inboxtest"
	"inbox_backend/internal/inbox/repository"
	"inbox_backend/internal/media"
	"inbox_backend/platform/logger"
	"inbox_backend/platform/phone"

	"github.com/google/uuid"
)

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.EventName() == name {
			n++
		}
	}
	return n
}

type fakeContacts struct {
	name    string
	avatar  string
	err     error
	mu      sync.Mutex
	lookups int
}

func (f *fakeContacts) ContactName(context.Context, domain.Instance, string) (string, error) {
	f.mu.Lock()
	f.lookups++
	f.mu.Unlock()
	return f.name, f.err
}

func (f *fakeContacts) ProfilePicture(context.Context, domain.Instance, string) (string, error) {
	f.mu.Lock()
	f.lookups++
	f.mu.Unlock()
	return f.avatar, f.err
}

type fakeMedia struct {
	calls     int
	discarded []string
}

func (f *fakeMedia) Discard(_ context.Context, ref string) error {
	f.discarded = append(f.discarded, ref)
	return nil
}

func (f *fakeMedia) Store(_ context.Context, src media.Source) (media.Stored, error) {
	f.calls++
	if src.URL == "" && src.Base64 == "" {
		return media.Stored{}, media.ErrNoMedia
	}
	key := "leads/" + src.LeadID.String() + "/1700000000000.jpg"
	return media.Stored{Ref: domain.StorageLocator("inbox-media", key), MimeType: "image/jpeg", Size: 10}, nil
}

type fixture struct {
	store    *inboxtest.Store
	bus      *recordingBus
	contacts *fakeContacts
	media    *fakeMedia
	instance domain.Instance
	leads    *LeadMatcher
	convs    *ConversationReconciler
	messages *MessageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    inboxtest.New(),
		bus:      &recordingBus{},
		contacts: &fakeContacts{err: errors.New("gateway down")},
		media:    &fakeMedia{},
	}
	f.instance = f.store.AddInstance(domain.Instance{
		TenantID:    uuid.New(),
		Provider:    domain.ProviderWAHA,
		Name:        "main",
		SessionName: "default",
		BaseURL:     "http://gateway.internal:3000",
		IsActive:    true,
	})
	log := logger.Nop()
	f.leads = NewLeadMatcher(f.store, f.contacts, f.bus, time.Second, log)
	f.convs = NewConversationReconciler(f.store, log)
	f.messages = NewMessageService(f.store, f.leads, f.convs, f.media, f.bus, log)
	return f
}

func (f *fixture) match(t *testing.T, raw, name string, dir domain.Direction) (domain.Lead, bool) {
	t.Helper()
	lead, created, err := f.leads.Match(context.Background(), MatchInput{
		Instance:    f.instance,
		Phone:       phone.Canonicalize(raw),
		ChatID:      raw,
		DisplayName: name,
		Direction:   dir,
		At:          time.Now(),
	})
	if err != nil {
		t.Fatalf("Match(%q) failed: %v", raw, err)
	}
	return lead, created
}

func (f *fixture) inbound(externalID, raw, text string) IncomingMessage {
	return IncomingMessage{
		Instance:   f.instance,
		ExternalID: externalID,
		ChatID:     raw,
		Phone:      phone.Canonicalize(raw),
		SenderName: "João",
		Direction:  domain.DirectionInbound,
		Type:       domain.MessageTypeText,
		Content:    text,
		SentAt:     time.Now(),
	}
}

func TestMatchCreatesLeadWithReportedName(t *testing.T) {
	f := newFixture(t)
	lead, created := f.match(t, "5511999999999@c.us", "João", domain.DirectionInbound)
	if !created {
		t.Fatalf("expected a new lead")
	}
	if lead.Phone != "11999999999" || lead.CountryCode != "55" || lead.Name != "João" {
		t.Fatalf("unexpected lead %+v", lead)
	}
	if f.bus.count("inbox.lead.created") != 1 {
		t.Fatalf("expected one lead created event")
	}

	again, created := f.match(t, "5511999999999@c.us", "João", domain.DirectionInbound)
	if created || again.ID != lead.ID {
		t.Fatalf("second match must reuse the lead")
	}
}

func TestMatchTenDigitAndInternationalForms(t *testing.T) {
	f := newFixture(t)
	tenant := f.instance.TenantID

	stored := f.store.AddLead(domain.Lead{TenantID: tenant, Phone: "1199998888", CountryCode: "55", Name: "Ana"})
	lead, created := f.match(t, "5511999998888@c.us", "", domain.DirectionInbound)
	if created || lead.ID != stored.ID {
		t.Fatalf("13-digit form must find the 10-digit lead, got %+v", lead)
	}

	legacy := f.store.AddLead(domain.Lead{TenantID: tenant, Phone: "5521999997777", Name: "Bia"})
	lead, created = f.match(t, "2199997777", "", domain.DirectionInbound)
	if created || lead.ID != legacy.ID {
		t.Fatalf("10-digit form must find the 13-digit lead, got %+v", lead)
	}
}

func TestMatchSuffixPrefersLongestTrailingRun(t *testing.T) {
	f := newFixture(t)
	tenant := f.instance.TenantID
	f.store.AddLead(domain.Lead{TenantID: tenant, Phone: "21887654321", Name: "Other"})
	want := f.store.AddLead(domain.Lead{TenantID: tenant, Phone: "011987654321", Name: "Legacy"})

	lead, created := f.match(t, "5511987654321@c.us", "", domain.DirectionInbound)
	if created || lead.ID != want.ID {
		t.Fatalf("expected the legacy lead, got %+v", lead)
	}
}

func TestMatchShortSuffixWithName(t *testing.T) {
	f := newFixture(t)
	tenant := f.instance.TenantID
	want := f.store.AddLead(domain.Lead{TenantID: tenant, Phone: "11912344321", Name: "Maria Silva"})

	lead, created := f.match(t, "5511987654321@c.us", "maria", domain.DirectionInbound)
	if created || lead.ID != want.ID {
		t.Fatalf("expected name fallback to match, got %+v", lead)
	}

	other := newFixture(t)
	other.store.AddLead(domain.Lead{TenantID: other.instance.TenantID, Phone: "11912344321", Name: "Maria Silva"})
	lead, created = other.match(t, "5511987654321@c.us", "Pedro", domain.DirectionInbound)
	if !created || lead.Name != "Pedro" {
		t.Fatalf("a different name must not match on a short suffix, got %+v", lead)
	}
}

func TestMatchOpaqueIDsMatchExactlyOnly(t *testing.T) {
	f := newFixture(t)
	tenant := f.instance.TenantID
	want := f.store.AddLead(domain.Lead{TenantID: tenant, Phone: "123456789012345", Name: "Ad lead"})

	lead, created := f.match(t, "123456789012345@lid", "", domain.DirectionInbound)
	if created || lead.ID != want.ID {
		t.Fatalf("expected exact opaque match, got %+v", lead)
	}

	lead, created = f.match(t, "999456789012345@lid", "", domain.DirectionInbound)
	if !created || lead.Phone != "999456789012345" {
		t.Fatalf("a different opaque id must not match by suffix, got %+v", lead)
	}
	if f.contacts.lookups != 0 {
		t.Fatalf("opaque ids must not be looked up as contacts")
	}
}

func TestMatchInvalidDomesticNumberMatchesExactlyOnly(t *testing.T) {
	f := newFixture(t)
	tenant := f.instance.TenantID
	f.store.AddLead(domain.Lead{TenantID: tenant, Phone: "11987654321", Name: "Maria Silva"})

	// Area code 00 does not exist, so only the stored digits may match.
	lead, created := f.match(t, "5500987654321@c.us", "Maria Silva", domain.DirectionInbound)
	if !created || lead.Phone != "00987654321" {
		t.Fatalf("an invalid number must not match on a suffix, got %+v", lead)
	}

	again, created := f.match(t, "5500987654321@c.us", "", domain.DirectionInbound)
	if created || again.ID != lead.ID {
		t.Fatalf("an invalid number must still match its own lead exactly, got %+v", again)
	}
}

func TestMatchPromotesPlaceholderNameOnInboundOnly(t *testing.T) {
	f := newFixture(t)
	tenant := f.instance.TenantID
	placeholder := domain.PlaceholderName("5511999999999")
	f.store.AddLead(domain.Lead{TenantID: tenant, Phone: "11999999999", CountryCode: "55", Name: placeholder})

	lead, _ := f.match(t, "5511999999999@c.us", "Minha Empresa", domain.DirectionOutbound)
	if lead.Name != placeholder {
		t.Fatalf("outbound events must not rename leads, got %q", lead.Name)
	}

	lead, _ = f.match(t, "5511999999999@c.us", "João", domain.DirectionInbound)
	if lead.Name != "João" {
		t.Fatalf("expected promotion, got %q", lead.Name)
	}

	lead, _ = f.match(t, "5511999999999@c.us", "Joca", domain.DirectionInbound)
	if lead.Name != "João" {
		t.Fatalf("a real name must not be overwritten, got %q", lead.Name)
	}
}

func TestMatchEnrichesFromGateway(t *testing.T) {
	f := newFixture(t)
	f.contacts.err = nil
	f.contacts.name = "Ana Paula"
	f.contacts.avatar = "https://cdn.example.com/ana.jpg"

	lead, created := f.match(t, "5511988887777@c.us", "", domain.DirectionInbound)
	if !created || lead.Name != "Ana Paula" {
		t.Fatalf("expected gateway name, got %+v", lead)
	}
	if lead.AvatarURL == nil || *lead.AvatarURL != "https://cdn.example.com/ana.jpg" {
		t.Fatalf("expected avatar, got %v", lead.AvatarURL)
	}
}

func TestMatchDegradesWhenGatewayFails(t *testing.T) {
	f := newFixture(t)
	lead, created := f.match(t, "5511988887777@c.us", "", domain.DirectionInbound)
	if !created || lead.Name != domain.PlaceholderName("5511988887777") || lead.AvatarURL != nil {
		t.Fatalf("expected placeholder lead, got %+v", lead)
	}
	if !lead.PendingVerification() {
		t.Fatalf("placeholder lead must be pending verification")
	}
}

func TestReconcileReopensOnInboundOnly(t *testing.T) {
	f := newFixture(t)
	lead, _ := f.match(t, "5511999999999@c.us", "João", domain.DirectionInbound)
	instanceID := f.instance.ID
	resolved := f.store.AddConversation(domain.Conversation{
		TenantID:   lead.TenantID,
		LeadID:     lead.ID,
		InstanceID: &instanceID,
		Status:     domain.ConversationResolved,
	})

	conv, err := f.convs.Reconcile(context.Background(), lead, &instanceID, domain.DirectionOutbound, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.ID != resolved.ID || conv.Status != domain.ConversationResolved {
		t.Fatalf("outbound must not reopen, got %+v", conv)
	}

	conv, err = f.convs.Reconcile(context.Background(), lead, &instanceID, domain.DirectionInbound, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.ID != resolved.ID || conv.Status != domain.ConversationOpen {
		t.Fatalf("inbound must reopen the same conversation, got %+v", conv)
	}
	if len(f.store.Conversations()) != 1 {
		t.Fatalf("no new conversation expected")
	}
}

func TestReconcileFallsBackToLegacyConversation(t *testing.T) {
	f := newFixture(t)
	lead, _ := f.match(t, "5511999999999@c.us", "João", domain.DirectionInbound)
	legacy := f.store.AddConversation(domain.Conversation{
		TenantID: lead.TenantID,
		LeadID:   lead.ID,
		Status:   domain.ConversationPending,
	})

	instanceID := f.instance.ID
	conv, err := f.convs.Reconcile(context.Background(), lead, &instanceID, domain.DirectionInbound, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.ID != legacy.ID || conv.Status != domain.ConversationOpen {
		t.Fatalf("expected the legacy conversation reopened, got %+v", conv)
	}
}

func TestReconcileCreatesScopedConversation(t *testing.T) {
	f := newFixture(t)
	lead, _ := f.match(t, "5511999999999@c.us", "João", domain.DirectionInbound)
	instanceID := f.instance.ID

	first, err := f.convs.Reconcile(context.Background(), lead, &instanceID, domain.DirectionInbound, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.InstanceID == nil || *first.InstanceID != instanceID || first.Status != domain.ConversationOpen {
		t.Fatalf("unexpected conversation %+v", first)
	}
	second, err := f.convs.Reconcile(context.Background(), lead, &instanceID, domain.DirectionInbound, time.Now())
	if err != nil || second.ID != first.ID {
		t.Fatalf("expected the same conversation, got %+v (%v)", second, err)
	}
}

func TestCanonicalID(t *testing.T) {
	tests := map[string][2]string{
		"false_5511999999999@c.us_3EB0ABC": {"3EB0ABC", "false_5511999999999@c.us_3EB0ABC"},
		"3EB0ABC":                          {"3EB0ABC", "3EB0ABC"},
		" BAE5F00 ":                        {"BAE5F00", "BAE5F00"},
		"trailing_":                        {"trailing_", "trailing_"},
	}
	for in, want := range tests {
		short, full := CanonicalID(in)
		if short != want[0] || full != want[1] {
			t.Fatalf("CanonicalID(%q) = %q, %q", in, short, full)
		}
	}
}

func TestIngestNewInboundText(t *testing.T) {
	f := newFixture(t)
	res, err := f.messages.Ingest(context.Background(), f.inbound("false_5511999999999@c.us_AAA111", "5511999999999@c.us", "Bom dia!"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s", res.Outcome)
	}

	msg := res.Message
	if msg.Direction != domain.DirectionInbound || msg.Type != domain.MessageTypeText || msg.Status != domain.MessageStatusDelivered {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.ExternalID != "AAA111" || msg.Content != "Bom dia!" {
		t.Fatalf("unexpected message %+v", msg)
	}

	leads := f.store.Leads()
	if len(leads) != 1 || leads[0].Phone != "11999999999" || leads[0].CountryCode != "55" || leads[0].Name != "João" {
		t.Fatalf("unexpected leads %+v", leads)
	}
	convs := f.store.Conversations()
	if len(convs) != 1 || convs[0].Status != domain.ConversationOpen || convs[0].ID != msg.ConversationID {
		t.Fatalf("unexpected conversations %+v", convs)
	}
	if f.bus.count("inbox.message.received") != 1 {
		t.Fatalf("expected a message received event")
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	in := f.inbound("false_5511999999999@c.us_AAA111", "5511999999999@c.us", "Bom dia!")

	first, err := f.messages.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		res, err := f.messages.Ingest(context.Background(), in)
		if err != nil {
			t.Fatalf("delivery %d failed: %v", i+2, err)
		}
		if res.Outcome != OutcomeDuplicate || res.Message.ID != first.Message.ID {
			t.Fatalf("delivery %d: expected duplicate of %s, got %+v", i+2, first.Message.ID, res)
		}
	}
	if n := len(f.store.Messages()); n != 1 {
		t.Fatalf("expected one message row, got %d", n)
	}
	if f.bus.count("inbox.message.received") != 1 {
		t.Fatalf("duplicates must not publish")
	}
}

func TestIngestMatchesLegacyFullID(t *testing.T) {
	f := newFixture(t)
	legacy := f.store.InsertRawMessage(domain.Message{ExternalID: "false_5511999999999@c.us_AAA111", Status: domain.MessageStatusDelivered})

	res, err := f.messages.Ingest(context.Background(), f.inbound("false_5511999999999@c.us_AAA111", "5511999999999@c.us", "Bom dia!"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeDuplicate || res.Message.ID != legacy.ID {
		t.Fatalf("expected legacy duplicate, got %+v", res)
	}
}

func imageEvent(f *fixture, url string) IncomingMessage {
	in := f.inbound("true_5511999999999@c.us_IMG001", "5511999999999@c.us", "")
	in.Type = domain.MessageTypeImage
	in.MediaURL = url
	return in
}

func TestLateMediaPatchesExistingMessage(t *testing.T) {
	f := newFixture(t)

	first, err := f.messages.Ingest(context.Background(), imageEvent(f, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Outcome != OutcomeCreated || first.Message.HasMedia() {
		t.Fatalf("expected a media-less message, got %+v", first)
	}

	second, err := f.messages.Ingest(context.Background(), imageEvent(f, "https://cdn.example.com/a.jpg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Outcome != OutcomeMediaPatched || !second.Message.HasMedia() {
		t.Fatalf("expected media patch, got %+v", second)
	}

	third, err := f.messages.Ingest(context.Background(), imageEvent(f, "https://cdn.example.com/a.jpg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.Outcome != OutcomeDuplicate {
		t.Fatalf("media is attached once, got %s", third.Outcome)
	}

	msgs := f.store.Messages()
	if len(msgs) != 1 || !msgs[0].HasMedia() {
		t.Fatalf("unexpected rows %+v", msgs)
	}
	if f.bus.count("inbox.message.media_attached") != 1 {
		t.Fatalf("expected one media attached event")
	}
}

func TestMediaFirstThenBareDuplicate(t *testing.T) {
	f := newFixture(t)

	first, err := f.messages.Ingest(context.Background(), imageEvent(f, "https://cdn.example.com/a.jpg"))
	if err != nil || !first.Message.HasMedia() {
		t.Fatalf("expected stored media, got %+v (%v)", first, err)
	}
	ref := *first.Message.MediaRef

	second, err := f.messages.Ingest(context.Background(), imageEvent(f, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Outcome != OutcomeDuplicate || *second.Message.MediaRef != ref {
		t.Fatalf("bare duplicate must not touch media, got %+v", second)
	}
	if f.media.calls != 1 {
		t.Fatalf("media pipeline ran %d times", f.media.calls)
	}
}

func TestLostInsertRaceAppliesLateMedia(t *testing.T) {
	f := newFixture(t)
	f.store.BeforeInsertMessage = func(p repository.InsertMessageParams) {
		f.store.BeforeInsertMessage = nil
		f.store.InsertRawMessage(domain.Message{
			TenantID:       p.TenantID,
			ConversationID: p.ConversationID,
			LeadID:         p.LeadID,
			ExternalID:     p.ExternalID,
			Type:           domain.MessageTypeImage,
			Status:         domain.MessageStatusSent,
		})
	}

	res, err := f.messages.Ingest(context.Background(), imageEvent(f, "https://cdn.example.com/a.jpg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeMediaPatched {
		t.Fatalf("expected the racing row to be patched, got %s", res.Outcome)
	}
	if n := len(f.store.Messages()); n != 1 {
		t.Fatalf("expected one row, got %d", n)
	}
	if f.media.calls != 1 {
		t.Fatalf("media must be uploaded once, got %d", f.media.calls)
	}
}

func TestLostInsertRaceDiscardsUploadWhenWinnerHasMedia(t *testing.T) {
	f := newFixture(t)
	winnerRef := domain.StorageLocator("inbox-media", "leads/winner/1.jpg")
	f.store.BeforeInsertMessage = func(p repository.InsertMessageParams) {
		f.store.BeforeInsertMessage = nil
		f.store.InsertRawMessage(domain.Message{
			TenantID:       p.TenantID,
			ConversationID: p.ConversationID,
			LeadID:         p.LeadID,
			ExternalID:     p.ExternalID,
			Type:           domain.MessageTypeImage,
			Status:         domain.MessageStatusSent,
			MediaRef:       &winnerRef,
		})
	}

	res, err := f.messages.Ingest(context.Background(), imageEvent(f, "https://cdn.example.com/a.jpg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeDuplicate || *res.Message.MediaRef != winnerRef {
		t.Fatalf("the winning row keeps its media, got %+v", res)
	}
	if len(f.media.discarded) != 1 || f.media.discarded[0] == winnerRef {
		t.Fatalf("expected this delivery's upload to be discarded, got %v", f.media.discarded)
	}
	if f.bus.count("inbox.message.media_attached") != 0 {
		t.Fatalf("no media attached event expected")
	}
}

func TestAckStatusNeverRegresses(t *testing.T) {
	f := newFixture(t)
	in := f.inbound("true_5511999999999@c.us_OUT001", "5511999999999@c.us", "Olá")
	in.Direction = domain.DirectionOutbound
	if _, err := f.messages.Ingest(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ack := func(status domain.MessageStatus) AckResult {
		res, err := f.messages.ApplyAck(context.Background(), Ack{Instance: f.instance, ExternalID: "OUT001", Status: status}, nil)
		if err != nil {
			t.Fatalf("ack %s failed: %v", status, err)
		}
		return res
	}

	if res := ack(domain.MessageStatusRead); !res.Updated || res.Message.Status != domain.MessageStatusRead {
		t.Fatalf("expected read, got %+v", res)
	}
	if res := ack(domain.MessageStatusDelivered); res.Updated || res.Message.Status != domain.MessageStatusRead {
		t.Fatalf("stale ack must not regress, got %+v", res)
	}
	if f.bus.count("inbox.message.status") != 1 {
		t.Fatalf("expected one status event")
	}
}

func TestAckFindsLegacyRowsBySubstring(t *testing.T) {
	f := newFixture(t)
	legacy := f.store.InsertRawMessage(domain.Message{ExternalID: "true_5511999999999@c.us_3EB0LEGACY01_out", Status: domain.MessageStatusSent})

	res, err := f.messages.ApplyAck(context.Background(), Ack{Instance: f.instance, ExternalID: "3EB0LEGACY01", Status: domain.MessageStatusDelivered}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message.ID != legacy.ID || !res.Updated {
		t.Fatalf("expected legacy row updated, got %+v", res)
	}

	if _, err := f.messages.ApplyAck(context.Background(), Ack{Instance: f.instance, ExternalID: "3EB0", Status: domain.MessageStatusRead}, nil); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("short ids must not use substring matching, got %v", err)
	}
}

func TestSelfAckSynthesizesOutboundMessage(t *testing.T) {
	f := newFixture(t)
	resolverCalls := 0
	resolve := func(context.Context) (phone.Canonical, bool) {
		resolverCalls++
		return phone.Canonicalize("5511999999999@c.us"), true
	}
	ack := Ack{
		Instance:   f.instance,
		ExternalID: "true_5511999999999@c.us_SELF01",
		Status:     domain.MessageStatusDelivered,
		FromMe:     true,
		ChatID:     "5511999999999@c.us",
		Content:    "Enviado pelo celular",
	}

	res, err := f.messages.ApplyAck(context.Background(), ack, resolve)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Synthesized {
		t.Fatalf("expected synthesized message")
	}
	msg := res.Message
	if msg.Direction != domain.DirectionOutbound || msg.Status != domain.MessageStatusDelivered || msg.ExternalID != "SELF01" || msg.Content != "Enviado pelo celular" {
		t.Fatalf("unexpected message %+v", msg)
	}

	res, err = f.messages.ApplyAck(context.Background(), ack, resolve)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Synthesized || res.Updated {
		t.Fatalf("repeat ack must be a no-op, got %+v", res)
	}
	if n := len(f.store.Messages()); n != 1 {
		t.Fatalf("expected one message, got %d", n)
	}
	if resolverCalls != 1 {
		t.Fatalf("recipient resolved %d times", resolverCalls)
	}
}

func TestUnknownAckWithoutSelfFlagIsIgnored(t *testing.T) {
	f := newFixture(t)
	_, err := f.messages.ApplyAck(context.Background(), Ack{Instance: f.instance, ExternalID: "UNKNOWN01", Status: domain.MessageStatusRead}, nil)
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestSelfAckWithUnresolvedRecipientCreatesNothing(t *testing.T) {
	f := newFixture(t)
	resolve := func(context.Context) (phone.Canonical, bool) { return phone.Canonical{}, false }
	_, err := f.messages.ApplyAck(context.Background(), Ack{Instance: f.instance, ExternalID: "SELF02", Status: domain.MessageStatusSent, FromMe: true}, resolve)
	if !errors.Is(err, ErrUnresolvedRecipient) {
		t.Fatalf("expected ErrUnresolvedRecipient, got %v", err)
	}
	if len(f.store.Leads()) != 0 || len(f.store.Messages()) != 0 {
		t.Fatalf("nothing may be created")
	}
}

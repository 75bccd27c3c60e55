package webhook

import (
	"regexp"
	"strings"
)

// Ignore reasons reported back to the gateway.
const (
	ReasonEventNotHandled   = "event not handled"
	ReasonNoChannelInstance = "no channel instance"
	ReasonGroupChat         = "group chat"
	ReasonBroadcast         = "status broadcast"
	ReasonNewsletter        = "newsletter"
	ReasonSystemMessage     = "system message"
	ReasonContactCard       = "contact card"
	ReasonLinkPreview       = "link preview"
	ReasonMissingID         = "missing message id"
	ReasonMissingChat       = "missing chat id"
	ReasonEmptyMessage      = "empty message"
	ReasonUnresolved        = "unresolved privacy id"
	ReasonAckStatus         = "ack status not tracked"
	ReasonMessageNotFound   = "message not found"
)

var groupPrefixRe = regexp.MustCompile(`^\d+-\d+(@|$)`)

var (
	systemTypes = setOf(
		"protocol", "protocolmessage", "call_log", "revoked", "e2e_notification",
		"notification_template", "gp2", "ciphertext", "senderkeydistributionmessage",
	)
	contactSubtypes = setOf("vcard", "multi_vcard", "contactmessage", "contactsarraymessage")
	previewSubtypes = setOf("url", "link_preview")
)

// FilterChat reports why a chat id must not produce any rows, or "" when it
// is a one-to-one chat.
func FilterChat(chatID string) string {
	id := strings.ToLower(strings.TrimSpace(chatID))
	switch {
	case strings.HasSuffix(id, "@g.us"), groupPrefixRe.MatchString(id):
		return ReasonGroupChat
	case id == "status@broadcast", strings.HasSuffix(id, "@broadcast"):
		return ReasonBroadcast
	case strings.HasSuffix(id, "@newsletter"):
		return ReasonNewsletter
	default:
		return ""
	}
}

// FilterMessage reports why msg is ignorable, or "" when it should be stored.
// It runs before any storage access.
func FilterMessage(msg RawMessage) string {
	if reason := FilterChat(msg.ChatID); reason != "" {
		return reason
	}
	for _, t := range []string{msg.Type, msg.Subtype} {
		key := strings.ToLower(strings.TrimSpace(t))
		if key == "" {
			continue
		}
		if _, ok := systemTypes[key]; ok {
			return ReasonSystemMessage
		}
		if _, ok := contactSubtypes[key]; ok {
			return ReasonContactCard
		}
		if _, ok := previewSubtypes[key]; ok {
			return ReasonLinkPreview
		}
	}
	return ""
}

func setOf(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"inbox_backend/internal/inbox/domain"
)

// MediaPayload is what a gateway returns for a stored message's media: either
// a URL to download or the bytes inline as base64.
type MediaPayload struct {
	URL      string
	Base64   string
	MimeType string
	FileName string
}

// ResolvePrivacyID asks the gateway for the phone number behind an opaque id.
// The result is a chat id or bare digits; ErrNotFound means the gateway does
// not know a number for it.
func (c *Client) ResolvePrivacyID(ctx context.Context, inst domain.Instance, id string) (string, error) {
	switch inst.Provider {
	case domain.ProviderWAHA:
		var out struct {
			Lid string `json:"lid"`
			PN  string `json:"pn"`
		}
		lid := id
		if !strings.Contains(lid, "@") {
			lid += "@lid"
		}
		path := "/api/" + url.PathEscape(sessionName(inst)) + "/lids/" + url.PathEscape(lid)
		if err := c.getJSON(ctx, inst, request{method: http.MethodGet, url: endpoint(inst, path, nil)}, &out); err != nil {
			return "", err
		}
		if out.PN == "" {
			return "", ErrNotFound
		}
		return out.PN, nil

	case domain.ProviderEvolution:
		contacts, err := c.evolutionContacts(ctx, inst, id)
		if err != nil {
			return "", err
		}
		for _, ct := range contacts {
			for _, candidate := range []string{ct.RemoteJidAlt, ct.PhoneNumber, ct.Pn, ct.RemoteJid} {
				if candidate != "" && !strings.HasSuffix(candidate, "@lid") {
					return candidate, nil
				}
			}
		}
		return "", ErrNotFound

	default:
		return "", ErrUnsupported
	}
}

// ContactName returns the display name the gateway knows for chatID.
func (c *Client) ContactName(ctx context.Context, inst domain.Instance, chatID string) (string, error) {
	switch inst.Provider {
	case domain.ProviderWAHA:
		var out struct {
			Name     string `json:"name"`
			PushName string `json:"pushname"`
		}
		q := url.Values{"contactId": {chatID}, "session": {sessionName(inst)}}
		if err := c.getJSON(ctx, inst, request{method: http.MethodGet, url: endpoint(inst, "/api/contacts", q)}, &out); err != nil {
			return "", err
		}
		return firstNonEmpty(out.Name, out.PushName), nil

	case domain.ProviderEvolution:
		contacts, err := c.evolutionContacts(ctx, inst, chatID)
		if err != nil {
			return "", err
		}
		for _, ct := range contacts {
			if ct.PushName != "" {
				return ct.PushName, nil
			}
		}
		return "", ErrNotFound

	default:
		return "", ErrUnsupported
	}
}

// ProfilePicture returns the URL of chatID's profile picture.
func (c *Client) ProfilePicture(ctx context.Context, inst domain.Instance, chatID string) (string, error) {
	switch inst.Provider {
	case domain.ProviderWAHA:
		var out struct {
			URL string `json:"profilePictureURL"`
		}
		q := url.Values{"contactId": {chatID}, "session": {sessionName(inst)}}
		if err := c.getJSON(ctx, inst, request{method: http.MethodGet, url: endpoint(inst, "/api/contacts/profile-picture", q)}, &out); err != nil {
			return "", err
		}
		if out.URL == "" {
			return "", ErrNotFound
		}
		return out.URL, nil

	case domain.ProviderEvolution:
		var out struct {
			URL string `json:"profilePictureUrl"`
		}
		path := "/chat/fetchProfilePictureUrl/" + url.PathEscape(sessionName(inst))
		body := map[string]string{"number": chatID}
		if err := c.getJSON(ctx, inst, request{method: http.MethodPost, url: endpoint(inst, path, nil), body: body}, &out); err != nil {
			return "", err
		}
		if out.URL == "" {
			return "", ErrNotFound
		}
		return out.URL, nil

	default:
		return "", ErrUnsupported
	}
}

// FetchMessageMedia asks the gateway for the media of a stored message.
// maxBytes bounds the decoded media size; larger responses fail with
// ErrResponseTooLarge.
func (c *Client) FetchMessageMedia(ctx context.Context, inst domain.Instance, chatID, messageID string, maxBytes int64) (MediaPayload, error) {
	switch inst.Provider {
	case domain.ProviderWAHA:
		var out struct {
			MediaURL string `json:"mediaUrl"`
			Media    *struct {
				URL      string `json:"url"`
				MimeType string `json:"mimetype"`
				FileName string `json:"filename"`
			} `json:"media"`
		}
		path := "/api/" + url.PathEscape(sessionName(inst)) + "/chats/" + url.PathEscape(chatID) +
			"/messages/" + url.PathEscape(messageID)
		q := url.Values{"downloadMedia": {"true"}}
		if err := c.getMediaJSON(ctx, inst, request{method: http.MethodGet, url: endpoint(inst, path, q)}, maxBytes, &out); err != nil {
			return MediaPayload{}, err
		}
		p := MediaPayload{URL: out.MediaURL}
		if out.Media != nil {
			p.URL = firstNonEmpty(out.Media.URL, p.URL)
			p.MimeType = out.Media.MimeType
			p.FileName = out.Media.FileName
		}
		if p.URL == "" {
			return MediaPayload{}, ErrNotFound
		}
		return p, nil

	case domain.ProviderEvolution:
		var out struct {
			Base64   string `json:"base64"`
			MimeType string `json:"mimetype"`
			FileName string `json:"fileName"`
		}
		path := "/chat/getBase64FromMediaMessage/" + url.PathEscape(sessionName(inst))
		body := map[string]any{
			"message": map[string]any{
				"key": map[string]any{"id": messageID, "remoteJid": chatID},
			},
			"convertToMp4": false,
		}
		if err := c.getMediaJSON(ctx, inst, request{method: http.MethodPost, url: endpoint(inst, path, nil), body: body}, maxBytes, &out); err != nil {
			return MediaPayload{}, err
		}
		if out.Base64 == "" {
			return MediaPayload{}, ErrNotFound
		}
		return MediaPayload{Base64: out.Base64, MimeType: out.MimeType, FileName: out.FileName}, nil

	default:
		return MediaPayload{}, ErrUnsupported
	}
}

type evolutionContact struct {
	RemoteJid    string `json:"remoteJid"`
	RemoteJidAlt string `json:"remoteJidAlt"`
	PhoneNumber  string `json:"phoneNumber"`
	Pn           string `json:"pn"`
	PushName     string `json:"pushName"`
}

func (c *Client) evolutionContacts(ctx context.Context, inst domain.Instance, jid string) ([]evolutionContact, error) {
	var out []evolutionContact
	path := "/chat/findContacts/" + url.PathEscape(sessionName(inst))
	body := map[string]any{"where": map[string]string{"remoteJid": jid}}
	if err := c.getJSON(ctx, inst, request{method: http.MethodPost, url: endpoint(inst, path, nil), body: body}, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

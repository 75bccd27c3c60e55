package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"inbox_backend/internal/inbox/domain"
)

// RawMessage is a message event reduced to the fields both dialects share.
type RawMessage struct {
	ID          string
	ChatID      string
	FromMe      bool
	PushName    string
	Type        string
	Subtype     string
	Body        string
	Caption     string
	HasMedia    bool
	MediaURL    string
	MediaBase64 string
	MimeType    string
	FileName    string
	Quoted      *RawQuoted
	// Alternates are phone-number candidates embedded elsewhere in the
	// payload, used when ChatID is a privacy id.
	Alternates []string
	Timestamp  time.Time
}

// RawQuoted is the replied-to message as the gateway reported it.
type RawQuoted struct {
	SerializedID string
	ID           string
	Remote       string
	FromMe       bool
	Body         string
	From         string
	Type         string
}

// RawAck is a receipt event. Status is empty for pending and error acks.
type RawAck struct {
	ID         string
	ChatID     string
	FromMe     bool
	Status     domain.MessageStatus
	Code       string
	Type       string
	Body       string
	Caption    string
	Alternates []string
	Timestamp  time.Time
}

// flexBool accepts true/false as booleans or strings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	*b = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexString accepts strings and numbers.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(raw)
	return nil
}

// unixTime accepts seconds or milliseconds, as a number or a string. Protobuf
// Long values serialized as {"low":..,"high":..} are read from low.
type unixTime time.Time

func (t *unixTime) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, "{") {
		var long struct {
			Low int64 `json:"low"`
		}
		if err := json.Unmarshal(data, &long); err != nil {
			return nil
		}
		raw = strconv.FormatInt(long.Low, 10)
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || n <= 0 {
		return nil
	}
	if n > 1e12 {
		*t = unixTime(time.UnixMilli(int64(n)))
		return nil
	}
	*t = unixTime(time.Unix(int64(n), 0))
	return nil
}

func (t unixTime) Time() time.Time { return time.Time(t) }

// =============================================================================
// Session dialect
// =============================================================================

type sessionMessage struct {
	ID         string     `json:"id"`
	Timestamp  unixTime   `json:"timestamp"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	FromMe     flexBool   `json:"fromMe"`
	Body       string     `json:"body"`
	HasMedia   flexBool   `json:"hasMedia"`
	MediaURL   string     `json:"mediaUrl"`
	Ack        flexString `json:"ack"`
	AckName    string     `json:"ackName"`
	Type       string     `json:"type"`
	NotifyName string     `json:"notifyName"`
	Media      *struct {
		URL      string `json:"url"`
		MimeType string `json:"mimetype"`
		FileName string `json:"filename"`
	} `json:"media"`
	ReplyTo *struct {
		ID          string `json:"id"`
		Participant string `json:"participant"`
		Body        string `json:"body"`
	} `json:"replyTo"`
	Data sessionData `json:"_data"`
}

type sessionData struct {
	ID         sessionID  `json:"id"`
	Body       string     `json:"body"`
	Type       string     `json:"type"`
	Subtype    string     `json:"subtype"`
	T          unixTime   `json:"t"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	Ack        flexString `json:"ack"`
	Caption    string     `json:"caption"`
	MimeType   string     `json:"mimetype"`
	FileName   string     `json:"filename"`
	NotifyName string     `json:"notifyName"`
	QuotedMsg  *struct {
		Body string `json:"body"`
		Type string `json:"type"`
	} `json:"quotedMsg"`
	QuotedStanzaID    string `json:"quotedStanzaID"`
	QuotedParticipant string `json:"quotedParticipant"`
	QuotedRemoteJid   string `json:"quotedRemoteJid"`
}

// sessionID is the _data.id object. Engines that send a plain string fill
// Serialized only.
type sessionID struct {
	FromMe     flexBool `json:"fromMe"`
	Remote     string   `json:"remote"`
	ID         string   `json:"id"`
	Serialized string   `json:"_serialized"`
}

func (id *sessionID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = sessionID{Serialized: s}
		return nil
	}
	type plain sessionID
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	*id = sessionID(v)
	return nil
}

func decodeSessionMessage(raw json.RawMessage) (RawMessage, error) {
	var p sessionMessage
	if err := json.Unmarshal(raw, &p); err != nil {
		return RawMessage{}, fmt.Errorf("decode message payload: %w", err)
	}
	d := p.Data

	fromMe := bool(p.FromMe) || bool(d.ID.FromMe)
	chatID := counterpart(fromMe, p.From, p.To)
	if chatID == "" {
		chatID = counterpart(fromMe, d.From, d.To)
	}

	msg := RawMessage{
		ID:       firstNonEmpty(p.ID, serializedID(d)),
		ChatID:   chatID,
		FromMe:   fromMe,
		PushName: firstNonEmpty(p.NotifyName, d.NotifyName),
		Type:     firstNonEmpty(d.Type, p.Type),
		Subtype:  d.Subtype,
		Body:     firstNonEmpty(p.Body, d.Body),
		Caption:  d.Caption,
		HasMedia: bool(p.HasMedia),
		MediaURL: p.MediaURL,
		MimeType: d.MimeType,
		FileName: d.FileName,
	}
	if p.Media != nil {
		msg.MediaURL = firstNonEmpty(p.Media.URL, msg.MediaURL)
		msg.MimeType = firstNonEmpty(p.Media.MimeType, msg.MimeType)
		msg.FileName = firstNonEmpty(p.Media.FileName, msg.FileName)
	}
	msg.Timestamp = p.Timestamp.Time()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = d.T.Time()
	}

	switch {
	case d.QuotedMsg != nil || d.QuotedStanzaID != "":
		q := &RawQuoted{
			ID:     d.QuotedStanzaID,
			Remote: firstNonEmpty(d.QuotedRemoteJid, chatID),
			From:   d.QuotedParticipant,
		}
		if d.QuotedMsg != nil {
			q.Body = d.QuotedMsg.Body
			q.Type = d.QuotedMsg.Type
		}
		// Our own id is the sender of outgoing messages and the recipient of
		// incoming ones.
		q.FromMe = d.QuotedParticipant != "" && d.QuotedParticipant == counterpart(!fromMe, d.From, d.To)
		msg.Quoted = q
	case p.ReplyTo != nil && p.ReplyTo.ID != "":
		msg.Quoted = &RawQuoted{
			SerializedID: p.ReplyTo.ID,
			Remote:       chatID,
			From:         p.ReplyTo.Participant,
			Body:         p.ReplyTo.Body,
		}
	}

	msg.Alternates = append(sessionAlternates(fromMe, d), scanAlternates(raw, fromMe)...)
	return msg, nil
}

func decodeSessionAck(raw json.RawMessage) (RawAck, error) {
	var p sessionMessage
	if err := json.Unmarshal(raw, &p); err != nil {
		return RawAck{}, fmt.Errorf("decode ack payload: %w", err)
	}
	d := p.Data
	fromMe := bool(p.FromMe) || bool(d.ID.FromMe)
	code := firstNonEmpty(string(p.Ack), string(d.Ack))
	status := sessionAckStatus(code)
	if status == "" {
		code = firstNonEmpty(p.AckName, code)
		status = sessionAckStatus(p.AckName)
	}
	ts := p.Timestamp.Time()
	if ts.IsZero() {
		ts = d.T.Time()
	}
	return RawAck{
		ID:         firstNonEmpty(p.ID, serializedID(d)),
		ChatID:     firstNonEmpty(counterpart(fromMe, p.From, p.To), counterpart(fromMe, d.From, d.To)),
		FromMe:     fromMe,
		Status:     status,
		Code:       code,
		Type:       firstNonEmpty(d.Type, p.Type),
		Body:       firstNonEmpty(p.Body, d.Body),
		Caption:    d.Caption,
		Alternates: append(sessionAlternates(fromMe, d), scanAlternates(raw, fromMe)...),
		Timestamp:  ts,
	}, nil
}

// sessionAckStatus maps numeric acks and ack names. 0 (pending) and -1
// (error) map to no status.
func sessionAckStatus(code string) domain.MessageStatus {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "1", "SERVER":
		return domain.MessageStatusSent
	case "2", "DEVICE":
		return domain.MessageStatusDelivered
	case "3", "4", "READ", "PLAYED":
		return domain.MessageStatusRead
	default:
		return ""
	}
}

func serializedID(d sessionData) string {
	return firstNonEmpty(d.ID.Serialized, d.ID.ID)
}

func sessionAlternates(fromMe bool, d sessionData) []string {
	return []string{counterpart(fromMe, d.From, d.To), d.ID.Remote}
}

// counterpart returns the chat id of the other party: the recipient for
// messages the business sent, the sender otherwise.
func counterpart(fromMe bool, from, to string) string {
	if fromMe {
		return strings.TrimSpace(to)
	}
	return strings.TrimSpace(from)
}

// =============================================================================
// Instance dialect
// =============================================================================

type instanceKey struct {
	RemoteJid    string   `json:"remoteJid"`
	RemoteJidAlt string   `json:"remoteJidAlt"`
	FromMe       flexBool `json:"fromMe"`
	ID           string   `json:"id"`
	Participant  string   `json:"participant"`
}

type mediaContent struct {
	Caption  string `json:"caption"`
	MimeType string `json:"mimetype"`
	FileName string `json:"fileName"`
	Title    string `json:"title"`
}

type contextInfo struct {
	StanzaID      string          `json:"stanzaId"`
	Participant   string          `json:"participant"`
	RemoteJid     string          `json:"remoteJid"`
	QuotedMessage json.RawMessage `json:"quotedMessage"`
}

type instanceContent struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text        string       `json:"text"`
		ContextInfo *contextInfo `json:"contextInfo"`
	} `json:"extendedTextMessage"`
	ImageMessage               *mediaContent `json:"imageMessage"`
	VideoMessage               *mediaContent `json:"videoMessage"`
	AudioMessage               *mediaContent `json:"audioMessage"`
	DocumentMessage            *mediaContent `json:"documentMessage"`
	StickerMessage             *mediaContent `json:"stickerMessage"`
	DocumentWithCaptionMessage *struct {
		Message *struct {
			DocumentMessage *mediaContent `json:"documentMessage"`
		} `json:"message"`
	} `json:"documentWithCaptionMessage"`
	LocationMessage *struct {
		Name    string  `json:"name"`
		Address string  `json:"address"`
		Lat     float64 `json:"degreesLatitude"`
		Lng     float64 `json:"degreesLongitude"`
	} `json:"locationMessage"`
	MediaURL string `json:"mediaUrl"`
	Base64   string `json:"base64"`
}

type instanceMessage struct {
	Key              instanceKey      `json:"key"`
	PushName         string           `json:"pushName"`
	Message          *instanceContent `json:"message"`
	MessageType      string           `json:"messageType"`
	MessageTimestamp unixTime         `json:"messageTimestamp"`
	ContextInfo      *contextInfo     `json:"contextInfo"`
	MediaURL         string           `json:"mediaUrl"`
	Status           flexString       `json:"status"`

	// messages.update fields
	KeyID     string    `json:"keyId"`
	MessageID string    `json:"messageId"`
	RemoteJid string    `json:"remoteJid"`
	FromMe    *flexBool `json:"fromMe"`
	Update    *struct {
		Status flexString `json:"status"`
	} `json:"update"`
}

func decodeInstanceMessage(raw json.RawMessage) (RawMessage, error) {
	var p instanceMessage
	if err := json.Unmarshal(raw, &p); err != nil {
		return RawMessage{}, fmt.Errorf("decode message data: %w", err)
	}
	fromMe := bool(p.Key.FromMe)
	msg := RawMessage{
		ID:        p.Key.ID,
		ChatID:    strings.TrimSpace(p.Key.RemoteJid),
		FromMe:    fromMe,
		PushName:  p.PushName,
		Type:      p.MessageType,
		MediaURL:  p.MediaURL,
		Timestamp: p.MessageTimestamp.Time(),
	}
	if fromMe {
		// The push name of an outgoing message is the business's own.
		msg.PushName = ""
	}

	ctxInfo := p.ContextInfo
	if c := p.Message; c != nil {
		msg.MediaURL = firstNonEmpty(c.MediaURL, msg.MediaURL)
		msg.MediaBase64 = c.Base64
		msg.Body = c.Conversation
		if ext := c.ExtendedTextMessage; ext != nil {
			msg.Body = firstNonEmpty(ext.Text, msg.Body)
			if ext.ContextInfo != nil {
				ctxInfo = ext.ContextInfo
			}
		}
		if m, kind := c.media(); m != nil {
			msg.HasMedia = true
			msg.Caption = m.Caption
			msg.MimeType = m.MimeType
			msg.FileName = firstNonEmpty(m.FileName, m.Title)
			if msg.Type == "" {
				msg.Type = kind
			}
		}
		if loc := c.LocationMessage; loc != nil {
			msg.Body = firstNonEmpty(loc.Name, loc.Address, fmt.Sprintf("%f,%f", loc.Lat, loc.Lng))
		}
	}

	if ctxInfo != nil && ctxInfo.StanzaID != "" {
		q := &RawQuoted{
			ID:     ctxInfo.StanzaID,
			Remote: firstNonEmpty(ctxInfo.RemoteJid, msg.ChatID),
			From:   ctxInfo.Participant,
		}
		q.Body, q.Type = quotedContent(ctxInfo.QuotedMessage)
		msg.Quoted = q
	}

	msg.Alternates = append([]string{p.Key.RemoteJidAlt}, scanAlternates(raw, fromMe)...)
	return msg, nil
}

// media returns the first media sub-message and its type keyword. The
// sub-message url fields point at encrypted CDN blobs and are not read.
func (c *instanceContent) media() (*mediaContent, string) {
	switch {
	case c.ImageMessage != nil:
		return c.ImageMessage, "imageMessage"
	case c.VideoMessage != nil:
		return c.VideoMessage, "videoMessage"
	case c.AudioMessage != nil:
		return c.AudioMessage, "audioMessage"
	case c.DocumentMessage != nil:
		return c.DocumentMessage, "documentMessage"
	case c.DocumentWithCaptionMessage != nil && c.DocumentWithCaptionMessage.Message != nil &&
		c.DocumentWithCaptionMessage.Message.DocumentMessage != nil:
		return c.DocumentWithCaptionMessage.Message.DocumentMessage, "documentMessage"
	case c.StickerMessage != nil:
		return c.StickerMessage, "stickerMessage"
	default:
		return nil, ""
	}
}

func quotedContent(raw json.RawMessage) (body, kind string) {
	if !present(raw) {
		return "", ""
	}
	var c instanceContent
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", ""
	}
	body = c.Conversation
	kind = "conversation"
	if c.ExtendedTextMessage != nil {
		body = firstNonEmpty(c.ExtendedTextMessage.Text, body)
		kind = "extendedTextMessage"
	}
	if m, k := c.media(); m != nil {
		return m.Caption, k
	}
	return body, kind
}

func decodeInstanceAck(raw json.RawMessage) (RawAck, error) {
	var p instanceMessage
	if err := json.Unmarshal(raw, &p); err != nil {
		return RawAck{}, fmt.Errorf("decode ack data: %w", err)
	}
	fromMe := bool(p.Key.FromMe)
	if p.FromMe != nil {
		fromMe = bool(*p.FromMe)
	}
	code := string(p.Status)
	if p.Update != nil && p.Update.Status != "" {
		code = string(p.Update.Status)
	}

	ack := RawAck{
		ID:         firstNonEmpty(p.KeyID, p.Key.ID, p.MessageID),
		ChatID:     firstNonEmpty(p.RemoteJid, p.Key.RemoteJid),
		FromMe:     fromMe,
		Status:     instanceAckStatus(code),
		Code:       code,
		Type:       p.MessageType,
		Timestamp:  p.MessageTimestamp.Time(),
		Alternates: append([]string{p.Key.RemoteJidAlt}, scanAlternates(raw, fromMe)...),
	}
	if c := p.Message; c != nil {
		ack.Body = c.Conversation
		if c.ExtendedTextMessage != nil {
			ack.Body = firstNonEmpty(c.ExtendedTextMessage.Text, ack.Body)
		}
		if m, kind := c.media(); m != nil {
			ack.Caption = m.Caption
			if ack.Type == "" {
				ack.Type = kind
			}
		}
	}
	return ack, nil
}

// instanceAckStatus maps receipt names and the numeric codes some gateway
// versions send instead.
func instanceAckStatus(code string) domain.MessageStatus {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "SERVER_ACK", "2":
		return domain.MessageStatusSent
	case "DELIVERY_ACK", "3":
		return domain.MessageStatusDelivered
	case "READ", "PLAYED", "4", "5":
		return domain.MessageStatusRead
	default:
		return ""
	}
}

// =============================================================================
// Shared
// =============================================================================

// alternateKeys are payload fields that carry a real number next to a
// privacy id, in order of trust. Sender fields of outgoing messages hold the
// business's own number and are skipped for them.
var (
	alternateKeys         = []string{"remoteJidAlt", "senderPn", "participantPn", "senderAlt", "recipientAlt"}
	outgoingAlternateKeys = []string{"remoteJidAlt", "recipientAlt"}
)

const maxScanDepth = 4

// scanAlternates walks raw for the alternate-number fields at any nesting
// depth up to maxScanDepth.
func scanAlternates(raw json.RawMessage, fromMe bool) []string {
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil
	}
	keys := alternateKeys
	if fromMe {
		keys = outgoingAlternateKeys
	}
	found := make(map[string][]string, len(keys))
	walk(root, 0, keys, found)

	var out []string
	for _, k := range keys {
		out = append(out, found[k]...)
	}
	return out
}

func walk(node any, depth int, keys []string, found map[string][]string) {
	if depth > maxScanDepth {
		return
	}
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			if s, ok := child.(string); ok {
				for _, want := range keys {
					if k == want && s != "" {
						found[k] = append(found[k], s)
					}
				}
				continue
			}
			walk(child, depth+1, keys, found)
		}
	case []any:
		for _, child := range v {
			walk(child, depth+1, keys, found)
		}
	}
}

package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"inbox_backend/internal/inbox/domain"
)

// ErrUnknownEnvelope is returned for bodies matching neither gateway dialect.
var ErrUnknownEnvelope = errors.New("unrecognized webhook envelope")

// Dialect is the top-level shape a gateway uses for its webhooks.
type Dialect string

const (
	// DialectSession carries event, session and payload.
	DialectSession Dialect = "session"
	// DialectInstance carries event, instance and data.
	DialectInstance Dialect = "instance"
)

// Provider returns the gateway kind speaking d.
func (d Dialect) Provider() domain.Provider {
	if d == DialectInstance {
		return domain.ProviderEvolution
	}
	return domain.ProviderWAHA
}

// Route is what the pipeline does with an event.
type Route int

const (
	RouteIgnore Route = iota
	RouteMessage
	RouteAck
)

var routes = map[Dialect]map[string]Route{
	DialectSession: {
		"message":     RouteMessage,
		"message.any": RouteMessage,
		"message.ack": RouteAck,
	},
	DialectInstance: {
		"messages.upsert": RouteMessage,
		"send.message":    RouteMessage,
		"messages.update": RouteAck,
	},
}

// Envelope is a parsed webhook body.
type Envelope struct {
	Dialect Dialect
	Event   string
	// Session is the session or instance name the gateway reported.
	Session string
	Payload json.RawMessage
}

// Route dispatches on the normalized event name.
func (e Envelope) Route() Route {
	return routes[e.Dialect][e.Event]
}

type rawEnvelope struct {
	Event    *string         `json:"event"`
	Session  json.RawMessage `json:"session"`
	Payload  json.RawMessage `json:"payload"`
	Instance json.RawMessage `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// ParseEnvelope detects the dialect of body from its top-level fields.
func ParseEnvelope(body []byte) (Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil || raw.Event == nil {
		return Envelope{}, ErrUnknownEnvelope
	}

	switch {
	case present(raw.Session) && present(raw.Payload):
		return Envelope{
			Dialect: DialectSession,
			Event:   NormalizeEventName(*raw.Event),
			Session: nameOf(raw.Session),
			Payload: raw.Payload,
		}, nil
	case present(raw.Instance) && present(raw.Data):
		return Envelope{
			Dialect: DialectInstance,
			Event:   NormalizeEventName(*raw.Event),
			Session: nameOf(raw.Instance),
			Payload: raw.Data,
		}, nil
	default:
		return Envelope{}, ErrUnknownEnvelope
	}
}

// NormalizeEventName lowercases name and treats '_' and '.' alike, so
// MESSAGES_UPSERT and messages.upsert compare equal.
func NormalizeEventName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", ".")
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// nameOf reads a session or instance field, which is a plain string in most
// deployments and an object with a name in some.
func nameOf(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Name         string `json:"name"`
		InstanceName string `json:"instanceName"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(firstNonEmpty(obj.InstanceName, obj.Name))
	}
	return ""
}

// splitItems returns the elements of a JSON array, or raw itself when it is
// a single object.
func splitItems(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	return []json.RawMessage{trimmed}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

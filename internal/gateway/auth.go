package gateway

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// AuthStrategy attaches an instance credential to a request using one header
// convention. Gateways accept different conventions and do not advertise
// which, so the client tries strategies in order.
type AuthStrategy interface {
	Name() string
	Apply(req *http.Request, apiKey string)
}

type headerStrategy struct {
	name  string
	apply func(req *http.Request, apiKey string)
}

func (s headerStrategy) Name() string                           { return s.name }
func (s headerStrategy) Apply(req *http.Request, apiKey string) { s.apply(req, apiKey) }

var (
	XAPIKeyAuth AuthStrategy = headerStrategy{"x-api-key", func(req *http.Request, key string) {
		req.Header.Set("X-Api-Key", key)
	}}
	APIKeyAuth AuthStrategy = headerStrategy{"apikey", func(req *http.Request, key string) {
		req.Header.Set("apikey", key)
	}}
	BearerAuth AuthStrategy = headerStrategy{"bearer", func(req *http.Request, key string) {
		req.Header.Set("Authorization", "Bearer "+key)
	}}
	BasicAuth AuthStrategy = headerStrategy{"basic", func(req *http.Request, key string) {
		req.Header.Set("Authorization", formatBasicAuth(key))
	}}
)

// DefaultAuthStrategies is the order credentials are tried in.
func DefaultAuthStrategies() []AuthStrategy {
	return []AuthStrategy{XAPIKeyAuth, APIKeyAuth, BearerAuth, BasicAuth}
}

// formatBasicAuth accepts either a ready "Basic ..." value or raw
// "user:pass" credentials.
func formatBasicAuth(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(apiKey))
	return "Basic " + encoded
}

func isAuthRejection(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad request", BadRequest("unrecognized webhook envelope"), http.StatusBadRequest},
		{"unauthorized", Unauthorized("invalid webhook signature"), http.StatusUnauthorized},
		{"too large", PayloadTooLarge("request body too large"), http.StatusRequestEntityTooLarge},
		{"not found", NotFound("message not found"), http.StatusNotFound},
		{"unavailable", Unavailable("media storage is not configured"), http.StatusServiceUnavailable},
		{"wrapped in chain", fmt.Errorf("process: %w", BadRequest("x")), http.StatusBadRequest},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(tt.err); got != tt.want {
				t.Fatalf("Status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindUnavailable, "media storage unavailable", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("wrapped cause lost")
	}
	if err.Error() != "media storage unavailable: connection refused" {
		t.Fatalf("message = %q", err.Error())
	}
}

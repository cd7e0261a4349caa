package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stitchline/api/internal/platform/auth"
	"github.com/stitchline/api/internal/services"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = 16 * 1024
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

// actorFromIdentity maps the authenticated identity onto the service-layer
// actor. Staff and admin roles both carry elevated privileges.
func actorFromIdentity(identity *auth.Identity) services.Actor {
	if identity == nil {
		return services.Actor{}
	}
	return services.Actor{
		ID:    strings.TrimSpace(identity.UID),
		Admin: identity.HasAnyRole(auth.RoleAdmin, auth.RoleStaff),
	}
}

type addressPayload struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	Line1    string `json:"line1"`
	City     string `json:"city"`
	District string `json:"district,omitempty"`
	Ward     string `json:"ward,omitempty"`
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		FullName: addr.FullName,
		Phone:    addr.Phone,
		Line1:    addr.Line1,
		City:     addr.City,
		District: addr.District,
		Ward:     addr.Ward,
	}
}

func (p addressPayload) toAddress() services.Address {
	return services.Address{
		FullName: strings.TrimSpace(p.FullName),
		Phone:    strings.TrimSpace(p.Phone),
		Line1:    strings.TrimSpace(p.Line1),
		City:     strings.TrimSpace(p.City),
		District: strings.TrimSpace(p.District),
		Ward:     strings.TrimSpace(p.Ward),
	}
}

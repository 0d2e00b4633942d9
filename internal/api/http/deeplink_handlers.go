// internal/api/http/deeplink_handlers.go
package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/mind-engage/lti-tool/internal/lti/deeplink"
	"github.com/mind-engage/lti-tool/internal/lti/vocab"
)

// DeepLinkHandlers finish a deep linking launch: the frontend posts the
// chosen content items and gets back the auto-submitting form that returns
// the signed response to the platform.
type DeepLinkHandlers struct {
	Responder *deeplink.Responder
}

// Respond accepts {"content_items": [...]} and renders the return form.
func (h *DeepLinkHandlers) Respond(w http.ResponseWriter, r *http.Request) {
	l, _ := LaunchFromContext(r.Context())

	var req struct {
		ContentItems []deeplink.ContentItem `json:"content_items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	res, err := h.Responder.BuildResponse(r.Context(), l, req.ContentItems)
	switch {
	case errors.Is(err, deeplink.ErrNotDeepLinking):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, deeplink.ErrNoReturnURL), errors.Is(err, deeplink.ErrNoItems):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		log.Printf("deeplink %s: %v", l.ID, err)
		http.Error(w, "deep linking response failed", http.StatusBadRequest)
		return
	}
	page, err := deeplink.AutoSubmitPage(res)
	if err != nil {
		log.Printf("deeplink %s: render: %v", l.ID, err)
		http.Error(w, "deep linking response failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// launchRoles feeds the permission checks with the short context role names
// of the attached launch. System and institution roles carry no permissions
// here.
func launchRoles(r *http.Request) []string {
	l, ok := LaunchFromContext(r.Context())
	if !ok {
		return nil
	}
	var out []string
	for _, role := range l.Claims.RoleList() {
		if short, ok := vocab.ShortContextRole(role); ok {
			out = append(out, short)
		}
	}
	return out
}

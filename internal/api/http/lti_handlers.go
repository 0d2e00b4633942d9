// internal/api/http/lti_handlers.go
package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/lti-tool/internal/config"
	"github.com/mind-engage/lti-tool/internal/lti/launch"
	"github.com/mind-engage/lti-tool/internal/lti/reconcile"
	"github.com/mind-engage/lti-tool/internal/lti/resolver"
)

// LaunchCookie carries the launch session id across the embedded browser
// session. SameSite=None because the tool always runs inside a platform
// iframe on another origin.
const LaunchCookie = "lti_launch_id"

// LTIHandlers wires the OIDC login, launch and config endpoints.
type LTIHandlers struct {
	Validator *launch.Validator
	Syncer    *reconcile.Syncer
	Cfg       config.Config
}

// Login handles both GET and POST initiation requests, with or without a
// registration UUID in the path.
func (h *LTIHandlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	regUUID := chi.URLParam(r, "registration_uuid")
	redirect, err := h.Validator.LoginInitiation(r.Context(), r.Form, regUUID)
	if err != nil {
		h.loginError(w, r, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (h *LTIHandlers) loginError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, launch.ErrMissingParameter):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, resolver.ErrUnknownRegistration):
		http.Error(w, "unknown registration", http.StatusForbidden)
	default:
		log.Printf("lti login: %v", err)
		http.Error(w, "login initiation failed", http.StatusInternalServerError)
	}
}

// Launch receives the form-POSTed id_token, validates it, reconciles claims
// and hands the browser to the launch target.
func (h *LTIHandlers) Launch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	l, err := h.Validator.HandleLaunch(r.Context(), r.PostForm)
	if err != nil {
		h.launchError(w, r, err)
		return
	}

	if !l.Deployment.IsActive {
		// Hand the user back to the platform when it told us how; a plain
		// 403 otherwise.
		if ret, ok := l.ErrorReturnURL("This deployment is awaiting activation by the tool administrator."); ok {
			http.Redirect(w, r, ret, http.StatusFound)
			return
		}
		http.Error(w, "deployment is not active", http.StatusForbidden)
		return
	}

	if err := h.Syncer.SyncFromLaunch(r.Context(), l); err != nil {
		log.Printf("lti launch %s: %v", l.ID, err)
		http.Error(w, "launch data sync failed", http.StatusInternalServerError)
		return
	}
	if err := h.Validator.SaveLaunch(l); err != nil {
		log.Printf("lti launch %s: save: %v", l.ID, err)
		http.Error(w, "launch session failed", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     LaunchCookie,
		Value:    l.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})

	target := l.TargetLinkURI()
	if target == "" {
		target = h.Cfg.PublicURL + "/"
	}
	http.Redirect(w, r, target+launchIDQuery(target, l.ID), http.StatusSeeOther)
}

// launchIDQuery appends the session id so targets work even when third-party
// cookies are blocked.
func launchIDQuery(target, id string) string {
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return sep + LaunchCookie + "=" + url.QueryEscape(id)
}

func (h *LTIHandlers) launchError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, launch.ErrMissingParameter),
		errors.Is(err, launch.ErrUnsupportedType),
		errors.Is(err, launch.ErrBadVersion):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, launch.ErrUnknownState),
		errors.Is(err, launch.ErrNonceMismatch),
		errors.Is(err, launch.ErrNonceReplayed),
		errors.Is(err, launch.ErrBadToken):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, resolver.ErrUnknownRegistration),
		errors.Is(err, resolver.ErrUnknownDeployment):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		log.Printf("lti launch: %v", err)
		http.Error(w, "launch failed", http.StatusInternalServerError)
	}
}

// Config serves the tool's JSON configuration for a registration, the
// document an administrator pastes into the platform when installing the
// tool.
func (h *LTIHandlers) Config(w http.ResponseWriter, r *http.Request) {
	regUUID := chi.URLParam(r, "registration_uuid")
	cfg := map[string]any{
		"title":               h.Cfg.ToolTitle,
		"description":         h.Cfg.ToolDescription,
		"oidc_initiation_url": h.Cfg.PublicURL + "/lti/login/" + regUUID,
		"target_link_uri":     h.Cfg.PublicURL + "/",
		"public_jwk_url":      h.Cfg.KeysetURL(),
		"custom_fields":       map[string]string{},
		"claims":              []string{"iss", "sub", "name", "given_name", "family_name", "email", "picture"},
		"messages": []map[string]any{
			{"type": "LtiResourceLinkRequest", "target_link_uri": h.Cfg.PublicURL + "/"},
			{"type": "LtiDeepLinkingRequest", "target_link_uri": h.Cfg.PublicURL + "/"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cfg)
}

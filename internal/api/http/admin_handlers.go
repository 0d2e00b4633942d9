// internal/api/http/admin_handlers.go
package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/lti-tool/internal/lti/store"
)

// AdminHandlers covers the operations that keep registrations and deployments
// usable: activating auto-created deployments and installing registrations.
type AdminHandlers struct {
	Store store.Store

	AdminUser     string
	AdminPassHash string // bcrypt
}

// BasicAuth gates the admin routes with the configured credentials. With no
// password hash configured the routes are disabled outright.
func (h *AdminHandlers) BasicAuth(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		if h.AdminPassHash == "" {
			http.Error(w, "admin endpoints disabled", http.StatusForbidden)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(h.AdminUser)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(h.AdminPassHash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// ActivateDeployment flips a deployment's active flag.
// POST {"registration_uuid": "...", "deployment_id": "...", "active": true}
func (h *AdminHandlers) ActivateDeployment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RegistrationUUID string `json:"registration_uuid"`
		DeploymentID     string `json:"deployment_id"`
		Active           bool   `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.RegistrationUUID == "" || req.DeploymentID == "" {
		http.Error(w, "registration_uuid and deployment_id required", http.StatusBadRequest)
		return
	}
	err := h.Store.SetDeploymentActive(r.Context(), req.RegistrationUUID, req.DeploymentID, req.Active)
	if errors.Is(err, store.ErrDeploymentNotFound) {
		http.Error(w, "deployment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("admin: activate deployment: %v", err)
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"deployment_id": req.DeploymentID,
		"active":        req.Active,
	})
}

// SaveRegistration installs or updates a platform registration.
func (h *AdminHandlers) SaveRegistration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UUID         string `json:"uuid"`
		Name         string `json:"name"`
		Issuer       string `json:"issuer"`
		ClientID     string `json:"client_id"`
		Audience     string `json:"audience"`
		AuthURL      string `json:"auth_url"`
		TokenURL     string `json:"token_url"`
		KeysetURL    string `json:"keyset_url"`
		IsActive     *bool  `json:"is_active"`
		LTI1p1Secret string `json:"lti1p1_secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Issuer == "" || req.ClientID == "" || req.AuthURL == "" || req.TokenURL == "" || req.KeysetURL == "" {
		http.Error(w, "issuer, client_id, auth_url, token_url and keyset_url required", http.StatusBadRequest)
		return
	}
	if req.UUID == "" {
		req.UUID = uuid.NewString()
	}
	reg := store.Registration{
		UUID:         req.UUID,
		Name:         req.Name,
		Issuer:       req.Issuer,
		ClientID:     req.ClientID,
		Audience:     req.Audience,
		AuthURL:      req.AuthURL,
		TokenURL:     req.TokenURL,
		KeysetURL:    req.KeysetURL,
		IsActive:     true,
		LTI1p1Secret: req.LTI1p1Secret,
	}
	if req.IsActive != nil {
		reg.IsActive = *req.IsActive
	}
	saved, err := h.Store.SaveRegistration(r.Context(), reg)
	if err != nil {
		log.Printf("admin: save registration: %v", err)
		http.Error(w, "save failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"uuid":      saved.UUID,
		"issuer":    saved.Issuer,
		"client_id": saved.ClientID,
		"is_active": saved.IsActive,
	})
}

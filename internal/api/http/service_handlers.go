// internal/api/http/service_handlers.go
package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/mind-engage/lti-tool/internal/lti/services/ags"
	"github.com/mind-engage/lti-tool/internal/lti/services/nrps"
	"github.com/mind-engage/lti-tool/internal/lti/store"
)

// ServiceHandlers expose NRPS and AGS sync to the launched session. Both
// routes sit behind RequireLaunch; the service URLs and scopes come from the
// context row the launch reconciled.
type ServiceHandlers struct {
	Store store.Store
}

func (h *ServiceHandlers) launchContext(w http.ResponseWriter, r *http.Request) (store.Context, bool) {
	l, _ := LaunchFromContext(r.Context())
	id := ""
	if cc, ok := l.Claims.ContextData(); ok {
		id = cc.ID
	}
	lctx, err := h.Store.FindContext(r.Context(), l.Deployment.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "no context for this launch", http.StatusNotFound)
		return store.Context{}, false
	}
	if err != nil {
		log.Printf("services: find context: %v", err)
		http.Error(w, "context lookup failed", http.StatusInternalServerError)
		return store.Context{}, false
	}
	return lctx, true
}

// SyncMembers pulls the NRPS roster for the launch's context.
func (h *ServiceHandlers) SyncMembers(w http.ResponseWriter, r *http.Request) {
	l, _ := LaunchFromContext(r.Context())
	lctx, ok := h.launchContext(w, r)
	if !ok {
		return
	}
	syncer := nrps.Syncer{
		Store:  h.Store,
		Client: nrps.New(r.Context(), l.Registration),
	}
	n, err := syncer.SyncContextMembers(r.Context(), l.Registration, lctx)
	if errors.Is(err, nrps.ErrNoMembershipsURL) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		log.Printf("services: member sync: %v", err)
		http.Error(w, "member sync failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"members_synced": n})
}

// SyncLineItems mirrors the platform's AGS line items for the launch's
// context. ?update_only=1 refreshes known items without creating new rows.
func (h *ServiceHandlers) SyncLineItems(w http.ResponseWriter, r *http.Request) {
	l, _ := LaunchFromContext(r.Context())
	lctx, ok := h.launchContext(w, r)
	if !ok {
		return
	}
	updateOnly := r.URL.Query().Get("update_only") == "1"
	syncer := ags.Syncer{
		Store:  h.Store,
		Client: ags.New(r.Context(), l.Registration),
	}
	n, err := syncer.SyncLineItems(r.Context(), lctx, updateOnly)
	switch {
	case errors.Is(err, ags.ErrNoLineItemsURL), errors.Is(err, ags.ErrScopeDenied):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		log.Printf("services: line item sync: %v", err)
		http.Error(w, "line item sync failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"line_items_synced": n})
}

// Session reports the reconciled view of the current launch, mostly for
// frontends bootstrapping from the launch cookie.
func (h *ServiceHandlers) Session(w http.ResponseWriter, r *http.Request) {
	l, _ := LaunchFromContext(r.Context())
	resp := map[string]any{
		"launch_id":     l.ID,
		"message_type":  l.MessageType(),
		"registration":  l.Registration.Name,
		"deployment_id": l.Deployment.DeploymentID,
		"user": map[string]any{
			"sub":   l.User.Sub,
			"name":  l.User.Name,
			"email": l.User.Email,
		},
		"roles": l.Claims.RoleList(),
	}
	if cc, ok := l.Claims.ContextData(); ok {
		resp["context"] = map[string]any{"id": cc.ID, "label": cc.Label, "title": cc.Title}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

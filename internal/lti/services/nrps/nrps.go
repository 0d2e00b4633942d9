// internal/lti/services/nrps/nrps.go
package nrps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mind-engage/lti-tool/internal/lti/reconcile"
	"github.com/mind-engage/lti-tool/internal/lti/services"
	"github.com/mind-engage/lti-tool/internal/lti/store"
	"github.com/mind-engage/lti-tool/internal/lti/vocab"
)

// Names and Role Provisioning Service client. The memberships URL comes from
// the launch claim and is stored on the context row.

const membershipMediaType = "application/vnd.ims.lti-nrps.v2.membershipcontainer+json"

var ErrNoMembershipsURL = errors.New("nrps: context has no memberships url")

// Member is one entry of the membership container.
type Member struct {
	UserID     string   `json:"user_id"`
	Roles      []string `json:"roles"`
	Status     string   `json:"status"`
	Name       string   `json:"name"`
	GivenName  string   `json:"given_name"`
	FamilyName string   `json:"family_name"`
	Email      string   `json:"email"`
	Picture    string   `json:"picture"`
}

type Client struct {
	http *http.Client
}

// New builds a client for the registration, requesting the membership scope.
func New(ctx context.Context, reg store.Registration) *Client {
	conn := services.ForRegistration(reg, vocab.ScopeContextMembership)
	return &Client{http: conn.HTTPClient(ctx)}
}

// NewWithHTTP injects a pre-built client (tests).
func NewWithHTTP(h *http.Client) *Client { return &Client{http: h} }

type memberPage struct {
	members []Member
	next    string
}

// FetchMembers retrieves the full membership list, following the Link
// rel="next" pagination headers until exhausted.
func (c *Client) FetchMembers(ctx context.Context, membershipsURL string) ([]Member, error) {
	var all []Member
	next := membershipsURL
	for next != "" {
		pageURL := next
		page, err := services.Retry(ctx, func() (memberPage, error) {
			m, n, err := c.fetchPage(ctx, pageURL)
			return memberPage{members: m, next: n}, err
		}, 4)
		if err != nil {
			return nil, err
		}
		all = append(all, page.members...)
		next = page.next
	}
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) ([]Member, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", membershipMediaType)
	res, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return nil, "", fmt.Errorf("nrps: fetch members: %s", res.Status)
	}
	var container struct {
		Members []Member `json:"members"`
	}
	if err := json.NewDecoder(res.Body).Decode(&container); err != nil {
		return nil, "", err
	}
	return container.Members, nextLink(res.Header), nil
}

// nextLink extracts the rel="next" target from a Link header, "" when absent.
func nextLink(h http.Header) string {
	for _, raw := range h.Values("Link") {
		for _, part := range strings.Split(raw, ",") {
			seg := strings.Split(part, ";")
			if len(seg) < 2 {
				continue
			}
			target := strings.Trim(strings.TrimSpace(seg[0]), "<>")
			for _, attr := range seg[1:] {
				if strings.EqualFold(strings.TrimSpace(attr), `rel="next"`) {
					if _, err := url.Parse(target); err == nil {
						return target
					}
				}
			}
		}
	}
	return ""
}

// Syncer pulls the platform roster and reconciles users and memberships for
// one context. Platform-side removals come back with a non-Active status and
// flip is_active off locally rather than deleting the row.
type Syncer struct {
	Store  store.Store
	Client *Client
}

func (s *Syncer) SyncContextMembers(ctx context.Context, reg store.Registration, lctx store.Context) (int, error) {
	if lctx.MembershipsURL == "" {
		return 0, ErrNoMembershipsURL
	}
	members, err := s.Client.FetchMembers(ctx, lctx.MembershipsURL)
	if err != nil {
		return 0, err
	}
	for _, m := range members {
		upd := store.UserUpdate{
			GivenName:  &m.GivenName,
			FamilyName: &m.FamilyName,
			Name:       &m.Name,
			Email:      &m.Email,
			PictureURL: &m.Picture,
		}
		user, err := s.Store.UpsertUser(ctx, reg.ID, m.UserID, upd)
		if err != nil {
			return 0, fmt.Errorf("nrps: user %s: %w", m.UserID, err)
		}
		flags := reconcile.RoleFlags(m.Roles)
		flags.IsActive = m.Status == "" || m.Status == "Active"
		if _, err := s.Store.UpsertMembership(ctx, user.ID, lctx.ID, flags); err != nil {
			return 0, fmt.Errorf("nrps: membership %s: %w", m.UserID, err)
		}
	}
	return len(members), nil
}

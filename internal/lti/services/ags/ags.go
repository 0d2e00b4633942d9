// internal/lti/services/ags/ags.go
package ags

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mind-engage/lti-tool/internal/lti/services"
	"github.com/mind-engage/lti-tool/internal/lti/store"
	"github.com/mind-engage/lti-tool/internal/lti/vocab"
)

// Assignment and Grade Services client. The line items URL and the granted
// scopes come from the launch endpoint claim and are stored on the context.

const (
	lineItemMediaType          = "application/vnd.ims.lis.v2.lineitem+json"
	lineItemContainerMediaType = "application/vnd.ims.lis.v2.lineitemcontainer+json"
	scoreMediaType             = "application/vnd.ims.lis.v1.score+json"
)

var (
	ErrNoLineItemsURL = errors.New("ags: context has no line items url")
	ErrScopeDenied    = errors.New("ags: context lacks the required scope")
)

// LineItem is the platform-side representation.
type LineItem struct {
	ID             string  `json:"id,omitempty"`
	Label          string  `json:"label"`
	ScoreMaximum   float64 `json:"scoreMaximum"`
	Tag            string  `json:"tag,omitempty"`
	ResourceID     string  `json:"resourceId,omitempty"`
	ResourceLinkID string  `json:"resourceLinkId,omitempty"`
	StartDateTime  string  `json:"startDateTime,omitempty"`
	EndDateTime    string  `json:"endDateTime,omitempty"`
}

// Score is one grade event pushed to a line item.
type Score struct {
	UserID           string
	ScoreGiven       float64
	ScoreMaximum     float64
	ActivityProgress string // Initialized|Started|InProgress|Submitted|Completed
	GradingProgress  string // FullyGraded|Pending|PendingManual|Failed|NotReady
	Timestamp        time.Time
	Comment          string
}

type Client struct {
	http *http.Client
}

// New builds a client for the registration with the given AGS scopes.
func New(ctx context.Context, reg store.Registration, scopes ...string) *Client {
	if len(scopes) == 0 {
		scopes = []string{vocab.ScopeQueryLineItems, vocab.ScopeManageLineItems, vocab.ScopePublishScores}
	}
	conn := services.ForRegistration(reg, scopes...)
	return &Client{http: conn.HTTPClient(ctx)}
}

// NewWithHTTP injects a pre-built client (tests).
func NewWithHTTP(h *http.Client) *Client { return &Client{http: h} }

// ListLineItems fetches the container, optionally filtered (resource_link_id,
// tag, resource_id, limit per the AGS query parameters).
func (c *Client) ListLineItems(ctx context.Context, lineItemsURL string, q map[string]string) ([]LineItem, error) {
	u, err := url.Parse(lineItemsURL)
	if err != nil {
		return nil, err
	}
	p := u.Query()
	for k, v := range q {
		p.Set(k, v)
	}
	u.RawQuery = p.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", lineItemContainerMediaType)
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("ags: list line items: %s", res.Status)
	}
	var items []LineItem
	if err := json.NewDecoder(res.Body).Decode(&items); err != nil {
		return nil, err
	}
	return items, nil
}

// CreateLineItem registers a new line item under the container URL.
func (c *Client) CreateLineItem(ctx context.Context, lineItemsURL string, li LineItem) (LineItem, error) {
	body, err := json.Marshal(li)
	if err != nil {
		return LineItem{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lineItemsURL, bytes.NewReader(body))
	if err != nil {
		return LineItem{}, err
	}
	req.Header.Set("Content-Type", lineItemMediaType)
	req.Header.Set("Accept", lineItemMediaType)
	res, err := c.http.Do(req)
	if err != nil {
		return LineItem{}, err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return LineItem{}, fmt.Errorf("ags: create line item: %s", res.Status)
	}
	var out LineItem
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return LineItem{}, err
	}
	return out, nil
}

// PostScore publishes a score to {lineItemURL}/scores.
func (c *Client) PostScore(ctx context.Context, lineItemURL string, s Score) error {
	payload := map[string]any{
		"userId":           s.UserID,
		"scoreGiven":       s.ScoreGiven,
		"scoreMaximum":     s.ScoreMaximum,
		"activityProgress": s.ActivityProgress,
		"gradingProgress":  s.GradingProgress,
		"timestamp":        s.Timestamp.Format(time.RFC3339),
	}
	if s.Comment != "" {
		payload["comment"] = s.Comment
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, scoresURL(lineItemURL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", scoreMediaType)
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("ags: post score: %s", res.Status)
	}
	return nil
}

// scoresURL appends the /scores segment while keeping any query string the
// platform put on the line item URL (Moodle does this).
func scoresURL(lineItemURL string) string {
	base, query, _ := strings.Cut(lineItemURL, "?")
	base = strings.TrimSuffix(base, "/") + "/scores"
	if query != "" {
		return base + "?" + query
	}
	return base
}

// Syncer mirrors the platform's line items into local rows.
type Syncer struct {
	Store  store.Store
	Client *Client
}

// SyncLineItems pulls every line item for the context and upserts it locally.
// With updateOnly set, items the tool has never seen are skipped instead of
// created. Returns the number of rows written.
func (s *Syncer) SyncLineItems(ctx context.Context, lctx store.Context, updateOnly bool) (int, error) {
	if lctx.LineItemsURL == "" {
		return 0, ErrNoLineItemsURL
	}
	if !lctx.CanQueryLineItems {
		return 0, ErrScopeDenied
	}
	items, err := services.Retry(ctx, func() ([]LineItem, error) {
		return s.Client.ListLineItems(ctx, lctx.LineItemsURL, nil)
	}, 4)
	if err != nil {
		return 0, err
	}

	known := map[string]bool{}
	if updateOnly {
		urls, err := s.Store.LineItemURLs(ctx, lctx.ID)
		if err != nil {
			return 0, err
		}
		for _, u := range urls {
			known[u] = true
		}
	}

	written := 0
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		if updateOnly && !known[it.ID] {
			continue
		}
		row := store.LineItem{
			ContextID:    lctx.ID,
			URL:          it.ID,
			MaximumScore: it.ScoreMaximum,
			Label:        it.Label,
			Tag:          it.Tag,
			ResourceID:   it.ResourceID,
		}
		if t, err := time.Parse(time.RFC3339, it.StartDateTime); err == nil {
			row.StartTime = &t
		}
		if t, err := time.Parse(time.RFC3339, it.EndDateTime); err == nil {
			row.EndTime = &t
		}
		if _, err := s.Store.UpsertLineItem(ctx, row); err != nil {
			return written, fmt.Errorf("ags: line item %s: %w", it.ID, err)
		}
		written++
	}
	return written, nil
}

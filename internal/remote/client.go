// Package remote wraps the CMS REST API that owns the authoritative
// grade records. The client makes exactly one attempt per call and maps
// expected failures onto the shared error taxonomy; fallback decisions
// belong to the sync service, not here.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/gradetrack/gradesync-api/internal/dateutil"
	"github.com/gradetrack/gradesync-api/internal/models"
	"github.com/gradetrack/gradesync-api/pkg/config"
	appErrors "github.com/gradetrack/gradesync-api/pkg/errors"
)

// Client talks to the Strapi-style CRUD API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a client from the remote configuration.
func NewClient(cfg config.RemoteConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// listEnvelope is the CMS collection response shape.
type listEnvelope struct {
	Data []listItem             `json:"data"`
	Meta map[string]interface{} `json:"meta"`
}

type listItem struct {
	ID         int64           `json:"id"`
	Attributes recordAttribute `json:"attributes"`
}

type recordAttribute struct {
	Date    string                `json:"date"`
	Entries []models.SubjectEntry `json:"entries"`
}

type singleEnvelope struct {
	Data listItem `json:"data"`
}

type submitEnvelope struct {
	Data submitPayload `json:"data"`
}

type submitPayload struct {
	Date        string                `json:"date"`
	User        int64                 `json:"user"`
	Entries     []models.SubjectEntry `json:"entries"`
	PublishedAt string                `json:"publishedAt"`
}

// Me resolves the identity behind a bearer token.
func (c *Client) Me(ctx context.Context, token string) (*models.RemoteUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/users/me", nil)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	c.authorize(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var user models.RemoteUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, wrapMalformed(err)
	}
	if user.ID == 0 {
		return nil, wrapMalformed(fmt.Errorf("user payload missing id"))
	}
	return &user, nil
}

// FetchAll returns the user's grade records sorted date-descending by
// the remote. Dates are canonicalised before the records leave this
// package; a record the remote serves with an unparseable date makes
// the whole response malformed rather than being silently redated.
func (c *Client) FetchAll(ctx context.Context, token string, userID int64) ([]models.GradeRecord, error) {
	query := url.Values{}
	query.Set("filters[user][id]", fmt.Sprintf("%d", userID))
	query.Set("sort", "date:desc")
	query.Set("populate", "*")

	endpoint := fmt.Sprintf("%s/api/daily-grades?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	c.authorize(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var envelope listEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, wrapMalformed(err)
	}
	if envelope.Data == nil {
		return nil, wrapMalformed(fmt.Errorf("missing data array"))
	}

	records := make([]models.GradeRecord, 0, len(envelope.Data))
	for _, item := range envelope.Data {
		date, err := dateutil.Normalize(item.Attributes.Date)
		if err != nil {
			return nil, wrapMalformed(fmt.Errorf("record %d: %w", item.ID, err))
		}
		records = append(records, models.GradeRecord{
			RemoteID: item.ID,
			Date:     date.String(),
			Entries:  item.Attributes.Entries,
		})
	}

	c.logger.Debug("fetched remote grades", zap.Int("count", len(records)), zap.Int64("user_id", userID))
	return records, nil
}

// Submit creates or replaces the record for its date on the remote.
func (c *Client) Submit(ctx context.Context, token string, userID int64, record models.GradeRecord) (*models.GradeRecord, error) {
	body, err := json.Marshal(submitEnvelope{Data: submitPayload{
		Date:        record.Date,
		User:        userID,
		Entries:     record.Entries,
		PublishedAt: time.Now().UTC().Format(time.RFC3339),
	}})
	if err != nil {
		return nil, fmt.Errorf("marshal grade record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/daily-grades", bytes.NewReader(body))
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var envelope singleEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, wrapMalformed(err)
	}
	if envelope.Data.ID == 0 {
		return nil, wrapMalformed(fmt.Errorf("created record missing id"))
	}

	date, err := dateutil.Normalize(envelope.Data.Attributes.Date)
	if err != nil {
		return nil, wrapMalformed(err)
	}

	created := models.GradeRecord{
		RemoteID: envelope.Data.ID,
		Date:     date.String(),
		Entries:  envelope.Data.Attributes.Entries,
	}
	c.logger.Debug("submitted grade record", zap.Int64("remote_id", created.RemoteID), zap.String("date", created.Date))
	return &created, nil
}

func (c *Client) authorize(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return appErrors.Clone(appErrors.ErrUnauthenticated, "remote rejected credentials")
	case status >= 500 || status == http.StatusTooManyRequests:
		return appErrors.Clone(appErrors.ErrServiceUnavailable, fmt.Sprintf("remote returned HTTP %d", status))
	default:
		return appErrors.Clone(appErrors.ErrMalformedResponse, fmt.Sprintf("remote returned HTTP %d", status))
	}
}

func wrapUnavailable(err error) error {
	return appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, appErrors.ErrServiceUnavailable.Message)
}

func wrapMalformed(err error) error {
	return appErrors.Wrap(err, appErrors.ErrMalformedResponse.Code, appErrors.ErrMalformedResponse.Status, appErrors.ErrMalformedResponse.Message)
}

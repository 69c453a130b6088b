package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradetrack/gradesync-api/internal/dateutil"
	"github.com/gradetrack/gradesync-api/internal/middleware"
	"github.com/gradetrack/gradesync-api/internal/models"
	"github.com/gradetrack/gradesync-api/internal/service"
	appErrors "github.com/gradetrack/gradesync-api/pkg/errors"
)

type fakeRemote struct {
	user      *models.RemoteUser
	records   []models.GradeRecord
	fetchErr  error
	submitErr error
}

func (f *fakeRemote) Me(context.Context, string) (*models.RemoteUser, error) {
	return f.user, nil
}

func (f *fakeRemote) FetchAll(context.Context, string, int64) ([]models.GradeRecord, error) {
	return f.records, f.fetchErr
}

func (f *fakeRemote) Submit(_ context.Context, _ string, _ int64, record models.GradeRecord) (*models.GradeRecord, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	created := record
	created.RemoteID = 42
	return &created, nil
}

type memStore struct {
	data     map[string][]models.GradeRecord
	versions map[string]int64
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]models.GradeRecord{}, versions: map[string]int64{}}
}

func (m *memStore) Get(ownerKey string) ([]models.GradeRecord, int64, error) {
	return m.data[ownerKey], m.versions[ownerKey], nil
}

func (m *memStore) Put(ownerKey string, records []models.GradeRecord, expectedVersion int64) error {
	if expectedVersion >= 0 && expectedVersion != m.versions[ownerKey] {
		return appErrors.Clone(appErrors.ErrConflict, "stale version")
	}
	m.data[ownerKey] = records
	m.versions[ownerKey]++
	return nil
}

type responseEnvelope struct {
	Data  json.RawMessage        `json:"data"`
	Error map[string]interface{} `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func newTestHandler(remote *fakeRemote, exportsEnabled bool) *GradeHandler {
	sync := service.NewSyncService(remote, newMemStore(), func(email string) string {
		if email == "" {
			return "dailyGrades"
		}
		return "dailyGrades_" + email
	}, nil, nil, nil)
	stats := service.NewStatsService(sync, nil, nil).WithClock(func() dateutil.Date {
		return dateutil.Date{Year: 2025, Month: time.March, Day: 14}
	})
	return NewGradeHandler(sync, stats, exportsEnabled)
}

func testContext(t *testing.T, method, target, body string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		c.Request.Header.Set("Content-Type", "application/json")
	}
	c.Set(middleware.ContextTokenKey, "token")
	return c, rec
}

func TestGradeHandlerListReturnsSource(t *testing.T) {
	remote := &fakeRemote{
		user: &models.RemoteUser{ID: 7, Email: "ada@example.com"},
		records: []models.GradeRecord{
			{Date: "2025-03-14", Entries: []models.SubjectEntry{{Subject: "Math", Grade: 95, GradingScale: models.ScalePercentage, Attended: true}}},
		},
	}
	handler := newTestHandler(remote, true)

	c, rec := testContext(t, http.MethodGet, "/grades", "")
	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "remote", envelope.Meta["source"])
	assert.Equal(t, float64(1), envelope.Meta["count"])
}

func TestGradeHandlerListFallsBackToLocal(t *testing.T) {
	remote := &fakeRemote{
		user:     &models.RemoteUser{ID: 7, Email: "ada@example.com"},
		fetchErr: appErrors.ErrServiceUnavailable,
	}
	handler := newTestHandler(remote, true)

	c, rec := testContext(t, http.MethodGet, "/grades", "")
	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "local", envelope.Meta["source"])
}

func TestGradeHandlerSubmitSynced(t *testing.T) {
	remote := &fakeRemote{user: &models.RemoteUser{ID: 7, Email: "ada@example.com"}}
	handler := newTestHandler(remote, true)

	body := `{"date":"2025-03-14","entries":[{"subject":"Math","grade":92,"attended":true}]}`
	c, rec := testContext(t, http.MethodPost, "/grades", body)
	handler.Submit(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "synced", envelope.Meta["outcome"])
}

func TestGradeHandlerSubmitAcceptedWhenRemoteDown(t *testing.T) {
	remote := &fakeRemote{
		user:      &models.RemoteUser{ID: 7, Email: "ada@example.com"},
		submitErr: appErrors.ErrServiceUnavailable,
	}
	handler := newTestHandler(remote, true)

	body := `{"date":"2025-03-14","entries":[{"subject":"Math","grade":92,"attended":true}]}`
	c, rec := testContext(t, http.MethodPost, "/grades", body)
	handler.Submit(c)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "savedLocally", envelope.Meta["outcome"])
}

func TestGradeHandlerSubmitRejectsBadPayload(t *testing.T) {
	handler := newTestHandler(&fakeRemote{user: &models.RemoteUser{ID: 7}}, true)

	c, rec := testContext(t, http.MethodPost, "/grades", `{"date":`)
	handler.Submit(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGradeHandlerSubmitRejectsBadDate(t *testing.T) {
	handler := newTestHandler(&fakeRemote{user: &models.RemoteUser{ID: 7}}, true)

	body := `{"date":"14/03/2025","entries":[{"subject":"Math","grade":92,"attended":true}]}`
	c, rec := testContext(t, http.MethodPost, "/grades", body)
	handler.Submit(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "INVALID_DATE_FORMAT", envelope.Error["code"])
}

func TestGradeHandlerStats(t *testing.T) {
	remote := &fakeRemote{
		user: &models.RemoteUser{ID: 7, Email: "ada@example.com"},
		records: []models.GradeRecord{
			{Date: "2025-03-14", Entries: []models.SubjectEntry{{Subject: "Math", Grade: 95, GradingScale: models.ScalePercentage, Attended: true}}},
		},
	}
	handler := newTestHandler(remote, true)

	c, rec := testContext(t, http.MethodGet, "/grades/stats?range=month", "")
	handler.Stats(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "remote", envelope.Meta["source"])
	assert.Equal(t, false, envelope.Meta["cached"])

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(envelope.Data, &stats))
	assert.Equal(t, "month", stats["range"])
	assert.Equal(t, "4.00", stats["gpa"])
}

func TestGradeHandlerStatsRejectsUnknownRange(t *testing.T) {
	handler := newTestHandler(&fakeRemote{user: &models.RemoteUser{ID: 7}}, true)

	c, rec := testContext(t, http.MethodGet, "/grades/stats?range=decade", "")
	handler.Stats(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGradeHandlerExportCSV(t *testing.T) {
	remote := &fakeRemote{
		user: &models.RemoteUser{ID: 7, Email: "ada@example.com"},
		records: []models.GradeRecord{
			{Date: "2025-03-14", RemoteID: 5, Entries: []models.SubjectEntry{{Subject: "Math", Grade: 95, GradingScale: models.ScalePercentage, Attended: true}}},
		},
	}
	handler := newTestHandler(remote, true)

	c, rec := testContext(t, http.MethodGet, "/grades/export?format=csv", "")
	handler.Export(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "grade-history.csv")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Date,Subject,Grade,Scale,Attended,Missing Assignments,Synced", lines[0])
	assert.Equal(t, "2025-03-14,Math,95,percentage,true,0,true", lines[1])
}

func TestGradeHandlerExportRejectsUnknownFormat(t *testing.T) {
	handler := newTestHandler(&fakeRemote{user: &models.RemoteUser{ID: 7}}, true)

	c, rec := testContext(t, http.MethodGet, "/grades/export?format=xlsx", "")
	handler.Export(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGradeHandlerExportDisabled(t *testing.T) {
	handler := newTestHandler(&fakeRemote{user: &models.RemoteUser{ID: 7}}, false)

	c, rec := testContext(t, http.MethodGet, "/grades/export", "")
	handler.Export(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

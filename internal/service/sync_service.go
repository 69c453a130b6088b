package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gradetrack/gradesync-api/internal/dateutil"
	"github.com/gradetrack/gradesync-api/internal/models"
	appErrors "github.com/gradetrack/gradesync-api/pkg/errors"
)

// Source labels where a reconciled record set came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// SubmitOutcome labels how a submitted record was persisted.
type SubmitOutcome string

const (
	OutcomeSynced       SubmitOutcome = "synced"
	OutcomeSavedLocally SubmitOutcome = "savedLocally"
)

// RemoteAPI is the surface of the CMS client the sync service needs.
type RemoteAPI interface {
	Me(ctx context.Context, token string) (*models.RemoteUser, error)
	FetchAll(ctx context.Context, token string, userID int64) ([]models.GradeRecord, error)
	Submit(ctx context.Context, token string, userID int64, record models.GradeRecord) (*models.GradeRecord, error)
}

// RecordStore is the surface of the local grade store the sync service needs.
type RecordStore interface {
	Get(ownerKey string) ([]models.GradeRecord, int64, error)
	Put(ownerKey string, records []models.GradeRecord, expectedVersion int64) error
}

// OwnerKeyFunc derives a cache partition from an owner email.
type OwnerKeyFunc func(email string) string

// SubmitEntry is one subject row in a submission payload.
type SubmitEntry struct {
	Subject            string  `json:"subject" validate:"required"`
	Grade              float64 `json:"grade"`
	GradingScale       string  `json:"gradingScale" validate:"omitempty,oneof=percentage fourPoint"`
	Attended           *bool   `json:"attended" validate:"required"`
	MissingAssignments int     `json:"missingAssignments" validate:"gte=0"`
}

// SubmitRequest is a full daily record submission.
type SubmitRequest struct {
	Date    string        `json:"date" validate:"required"`
	Entries []SubmitEntry `json:"entries" validate:"required,min=1,dive"`
}

// SubmitResult reports how the record landed.
type SubmitResult struct {
	Outcome SubmitOutcome      `json:"outcome"`
	Record  models.GradeRecord `json:"record"`
	Owner   string             `json:"-"`
}

// ListResult is a reconciled record set plus where it came from.
type ListResult struct {
	Records []models.GradeRecord
	Source  Source
	Owner   string
}

// SyncService reconciles the remote grade service with the local store.
// The remote copy is authoritative whenever it is reachable; the local
// copy keeps offline-created entries alive until the next sync.
type SyncService struct {
	remote   RemoteAPI
	store    RecordStore
	ownerKey OwnerKeyFunc
	validate *validator.Validate
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewSyncService constructs a SyncService.
func NewSyncService(remote RemoteAPI, store RecordStore, ownerKey OwnerKeyFunc, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *SyncService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		remote:   remote,
		store:    store,
		ownerKey: ownerKey,
		validate: validate,
		metrics:  metrics,
		logger:   logger,
	}
}

// identity is the resolved owner of a request.
type identity struct {
	UserID int64
	Email  string
	// Offline marks an identity recovered from token claims while the
	// remote was unreachable; remote calls are pointless in that state.
	Offline bool
}

// resolveIdentity asks the remote who the token belongs to. When the
// remote is down, the unverified token claims still give a stable owner
// key for the local store; the CMS remains the only verifier, so the
// claims are never trusted for anything but cache partitioning.
func (s *SyncService) resolveIdentity(ctx context.Context, token string) (identity, error) {
	start := time.Now()
	user, err := s.remote.Me(ctx, token)
	s.metrics.ObserveRemoteCall("me", time.Since(start), err == nil)
	if err == nil {
		return identity{UserID: user.ID, Email: user.Email}, nil
	}
	if errors.Is(err, appErrors.ErrUnauthenticated) {
		return identity{}, err
	}

	s.logger.Warn("identity resolution degraded to token claims", zap.Error(err))
	return claimsIdentity(token), nil
}

func claimsIdentity(token string) identity {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return identity{Offline: true}
	}

	id := identity{Offline: true}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if raw, ok := claims["id"].(float64); ok {
		id.UserID = int64(raw)
	}
	return id
}

func (s *SyncService) ownerKeyFor(id identity) string {
	if id.Email != "" {
		return s.ownerKey(id.Email)
	}
	if id.UserID != 0 {
		return s.ownerKey(fmt.Sprintf("user-%d", id.UserID))
	}
	// Documented fallback: no identity at all shares the global key.
	return s.ownerKey("")
}

// Reconcile merges the remote result with the local set. Remote entries
// win on date conflicts; dates only present locally are preserved
// (offline-created records awaiting sync). A failed remote fetch leaves
// the local set untouched. The result is sorted newest first.
func Reconcile(remote []models.GradeRecord, remoteErr error, local []models.GradeRecord) ([]models.GradeRecord, Source) {
	if remoteErr != nil {
		return local, SourceLocal
	}

	merged := make(map[string]models.GradeRecord, len(local)+len(remote))
	for _, record := range local {
		merged[record.Date] = record
	}
	for _, record := range remote {
		merged[record.Date] = record
	}

	result := make([]models.GradeRecord, 0, len(merged))
	for _, record := range merged {
		result = append(result, record)
	}
	// Canonical dates sort lexically in chronological order.
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date > result[j].Date
	})
	return result, SourceRemote
}

// List returns the reconciled record set for the token's owner, along
// with the source that backed it. A successful remote fetch re-persists
// the merged set so later offline reads stay consistent.
func (s *SyncService) List(ctx context.Context, token string) (*ListResult, error) {
	id, err := s.resolveIdentity(ctx, token)
	if err != nil {
		return nil, err
	}
	owner := s.ownerKeyFor(id)

	local, version, err := s.store.Get(owner)
	if err != nil {
		return nil, err
	}

	var (
		remote    []models.GradeRecord
		remoteErr error
	)
	if id.Offline {
		remoteErr = appErrors.ErrServiceUnavailable
	} else {
		start := time.Now()
		remote, remoteErr = s.remote.FetchAll(ctx, token, id.UserID)
		s.metrics.ObserveRemoteCall("fetch_all", time.Since(start), remoteErr == nil)
		if remoteErr != nil && errors.Is(remoteErr, appErrors.ErrUnauthenticated) {
			return nil, remoteErr
		}
	}

	merged, source := Reconcile(remote, remoteErr, local)
	if source == SourceLocal {
		s.metrics.RecordLocalFallback()
		s.logger.Info("serving grades from local store", zap.String("owner", owner), zap.Error(remoteErr))
		return &ListResult{Records: merged, Source: source, Owner: owner}, nil
	}

	if err := s.persist(owner, merged, version); err != nil {
		// The merged view is still correct; a failed persist only costs
		// offline freshness.
		s.logger.Warn("persist reconciled grades failed", zap.String("owner", owner), zap.Error(err))
	}
	return &ListResult{Records: merged, Source: source, Owner: owner}, nil
}

// persist writes the merged set, retrying once on a version conflict by
// re-reading and re-merging the concurrent writer's records.
func (s *SyncService) persist(owner string, merged []models.GradeRecord, version int64) error {
	err := s.store.Put(owner, merged, version)
	if err == nil || !errors.Is(err, appErrors.ErrConflict) {
		return err
	}

	current, _, readErr := s.store.Get(owner)
	if readErr != nil {
		return readErr
	}
	remerged, _ := Reconcile(merged, nil, current)
	return s.store.Put(owner, remerged, -1)
}

// Submit validates and stores a daily record. The remote write is
// attempted first; a remote outage degrades to a local-only save so the
// entry is never lost, reported as a soft success.
func (s *SyncService) Submit(ctx context.Context, token string, req SubmitRequest) (*SubmitResult, error) {
	record, err := s.buildRecord(req)
	if err != nil {
		return nil, err
	}

	id, err := s.resolveIdentity(ctx, token)
	if err != nil {
		return nil, err
	}
	owner := s.ownerKeyFor(id)

	outcome := OutcomeSavedLocally
	if !id.Offline {
		start := time.Now()
		created, submitErr := s.remote.Submit(ctx, token, id.UserID, *record)
		s.metrics.ObserveRemoteCall("submit", time.Since(start), submitErr == nil)
		switch {
		case submitErr == nil:
			record = created
			outcome = OutcomeSynced
		case errors.Is(submitErr, appErrors.ErrUnauthenticated), errors.Is(submitErr, appErrors.ErrValidation):
			return nil, submitErr
		default:
			s.logger.Warn("remote submit failed, saving locally", zap.String("date", record.Date), zap.Error(submitErr))
		}
	}

	if outcome == OutcomeSavedLocally {
		record.LocalID = uuid.NewString()
	}

	local, version, err := s.store.Get(owner)
	if err != nil {
		return nil, err
	}
	merged, _ := Reconcile([]models.GradeRecord{*record}, nil, local)
	if err := s.persist(owner, merged, version); err != nil {
		return nil, err
	}

	s.logger.Info("grade record stored",
		zap.String("owner", owner),
		zap.String("date", record.Date),
		zap.String("outcome", string(outcome)))
	return &SubmitResult{Outcome: outcome, Record: *record, Owner: owner}, nil
}

// buildRecord validates a submission and converts it to a canonical
// GradeRecord. Validation failures block the submission outright.
func (s *SyncService) buildRecord(req SubmitRequest) (*models.GradeRecord, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade submission")
	}

	date, err := dateutil.Normalize(req.Date)
	if err != nil {
		return nil, err
	}

	entries := make([]models.SubjectEntry, 0, len(req.Entries))
	seen := make(map[string]struct{}, len(req.Entries))
	for _, entry := range req.Entries {
		subject := strings.TrimSpace(entry.Subject)
		if subject == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "subject name must not be empty")
		}

		key := strings.ToLower(subject)
		if _, dup := seen[key]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate subject %q", subject))
		}
		seen[key] = struct{}{}

		scale := models.GradingScale(entry.GradingScale)
		if scale == "" {
			scale = models.ScalePercentage
		}
		if !scale.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown grading scale %q", entry.GradingScale))
		}

		min, max := scale.Bounds()
		if entry.Grade < min || entry.Grade > max {
			return nil, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("grade %.2f out of range [%.0f, %.0f] for scale %s", entry.Grade, min, max, scale))
		}

		entries = append(entries, models.SubjectEntry{
			Subject:            subject,
			Grade:              entry.Grade,
			GradingScale:       scale,
			Attended:           entry.Attended != nil && *entry.Attended,
			MissingAssignments: entry.MissingAssignments,
		})
	}

	return &models.GradeRecord{Date: date.String(), Entries: entries}, nil
}

package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/gradetrack/gradesync-api/internal/dateutil"
	"github.com/gradetrack/gradesync-api/internal/dto"
	"github.com/gradetrack/gradesync-api/internal/models"
)

// Range restricts stats to a trailing window of calendar days.
type Range string

const (
	RangeAll     Range = "all"
	RangeWeek    Range = "week"    // last 7 days
	RangeMonth   Range = "month"   // last 30 days
	RangeQuarter Range = "quarter" // last 90 days
	RangeYear    Range = "year"    // last 365 days
)

// Days returns the window length, or 0 for the unbounded range.
func (r Range) Days() int {
	switch r {
	case RangeWeek:
		return 7
	case RangeMonth:
		return 30
	case RangeQuarter:
		return 90
	case RangeYear:
		return 365
	default:
		return 0
	}
}

// Valid reports whether the range is a known value.
func (r Range) Valid() bool {
	switch r {
	case RangeAll, RangeWeek, RangeMonth, RangeQuarter, RangeYear:
		return true
	}
	return false
}

// StatsService computes dashboard metrics over the reconciled record
// set, with an optional read-through cache in front of the computation.
type StatsService struct {
	sync   *SyncService
	cache  *CacheService
	logger *zap.Logger
	now    func() dateutil.Date
}

// NewStatsService constructs a stats service.
func NewStatsService(sync *SyncService, cache *CacheService, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{sync: sync, cache: cache, logger: logger, now: dateutil.Today}
}

// Stats returns derived metrics for the token's owner. The boolean
// reports whether the payload came from cache.
func (s *StatsService) Stats(ctx context.Context, token string, rng Range) (*dto.StatsResponse, Source, bool, error) {
	list, err := s.sync.List(ctx, token)
	if err != nil {
		return nil, "", false, err
	}

	cacheKey := statsCacheKey(list.Owner, rng)
	if s.cache != nil {
		var cached dto.StatsResponse
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, list.Source, true, nil
		}
	}

	today := s.now()
	stats := Compute(list.Records, rng, today)

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, stats, 0); err != nil {
			s.logger.Warn("cache stats", zap.Error(err))
		}
	}
	return stats, list.Source, false, nil
}

// InvalidateOwner drops cached stats after a submission changed the
// underlying records.
func (s *StatsService) InvalidateOwner(ctx context.Context, owner string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, statsCacheKey(owner, "")+"*"); err != nil {
		s.logger.Warn("invalidate stats cache", zap.String("owner", owner), zap.Error(err))
	}
}

func statsCacheKey(owner string, rng Range) string {
	return fmt.Sprintf("stats:%s:%s", strings.ReplaceAll(owner, ":", "|"), rng)
}

// Compute derives every dashboard metric from a record set. Pure; the
// reference date only feeds range filtering and the input streak.
func Compute(records []models.GradeRecord, rng Range, today dateutil.Date) *dto.StatsResponse {
	windowed := FilterByRange(records, rng, today)

	return &dto.StatsResponse{
		Range:              string(rng),
		RecordCount:        len(windowed),
		AverageGrade:       AverageGrade(windowed),
		GPA:                FormatGPA(GPA(windowed)),
		AttendanceRate:     AttendanceRate(windowed),
		MissingAssignments: MissingAssignmentsTotal(records),
		MissingBySubject:   MissingBySubject(records),
		InputStreakDays:    InputStreak(records, today),
		Subjects:           SubjectSummaries(windowed),
	}
}

// FilterByRange keeps records within the trailing window. Canonical
// dates compare correctly as strings.
func FilterByRange(records []models.GradeRecord, rng Range, today dateutil.Date) []models.GradeRecord {
	days := rng.Days()
	if days == 0 || len(records) == 0 {
		return records
	}

	cutoff := today.AddDays(-days).String()
	kept := make([]models.GradeRecord, 0, len(records))
	for _, record := range records {
		if record.Date >= cutoff {
			kept = append(kept, record)
		}
	}
	return kept
}

// NormalizeGrade maps a grade onto the percentage scale.
func NormalizeGrade(grade float64, scale models.GradingScale) float64 {
	if scale == models.ScaleFourPoint {
		return grade / 4 * 100
	}
	return grade
}

// AverageGrade is the rounded mean of normalized grades over attended
// entries. Empty input is 0, not NaN.
func AverageGrade(records []models.GradeRecord) int {
	var total float64
	var count int
	for _, record := range records {
		for _, entry := range record.Entries {
			if entry.Attended {
				total += NormalizeGrade(entry.Grade, entry.GradingScale)
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return int(math.Round(total / float64(count)))
}

// gradePoints maps a percentage grade onto the 4.0 letter-grade scale.
func gradePoints(pct float64) float64 {
	switch {
	case pct >= 93:
		return 4.0
	case pct >= 90:
		return 3.7
	case pct >= 87:
		return 3.3
	case pct >= 83:
		return 3.0
	case pct >= 80:
		return 2.7
	case pct >= 77:
		return 2.3
	case pct >= 73:
		return 2.0
	case pct >= 70:
		return 1.7
	case pct >= 67:
		return 1.3
	case pct >= 63:
		return 1.0
	case pct >= 60:
		return 0.7
	default:
		return 0.0
	}
}

// GPA averages per-entry grade points over attended entries. Every
// subject carries the same credit weight, so the weighting cancels out
// of the mean. Empty input is 0.
func GPA(records []models.GradeRecord) float64 {
	var totalPoints float64
	var count int
	for _, record := range records {
		for _, entry := range record.Entries {
			if !entry.Attended {
				continue
			}
			if entry.GradingScale == models.ScaleFourPoint {
				totalPoints += math.Min(4.0, math.Max(0, entry.Grade))
			} else {
				totalPoints += gradePoints(entry.Grade)
			}
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return totalPoints / float64(count)
}

// FormatGPA renders a GPA with the conventional two decimals.
func FormatGPA(gpa float64) string {
	return fmt.Sprintf("%.2f", gpa)
}

// AttendanceRate is attended entries over all entries as a rounded
// percentage. No data means no recorded absences, so empty input is 100.
func AttendanceRate(records []models.GradeRecord) int {
	var total, attended int
	for _, record := range records {
		for _, entry := range record.Entries {
			total++
			if entry.Attended {
				attended++
			}
		}
	}
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(attended) / float64(total) * 100))
}

// mostRecent returns the newest record by canonical date.
func mostRecent(records []models.GradeRecord) *models.GradeRecord {
	var latest *models.GradeRecord
	for i := range records {
		if latest == nil || records[i].Date > latest.Date {
			latest = &records[i]
		}
	}
	return latest
}

// MissingAssignmentsTotal sums missing assignments over the single most
// recent record; older records reflect counts that have since changed.
func MissingAssignmentsTotal(records []models.GradeRecord) int {
	latest := mostRecent(records)
	if latest == nil {
		return 0
	}
	var total int
	for _, entry := range latest.Entries {
		total += entry.MissingAssignments
	}
	return total
}

// MissingBySubject breaks the most recent record's missing assignments
// down per subject, highest count first.
func MissingBySubject(records []models.GradeRecord) []dto.SubjectMissing {
	latest := mostRecent(records)
	if latest == nil {
		return nil
	}

	out := make([]dto.SubjectMissing, 0, len(latest.Entries))
	for _, entry := range latest.Entries {
		if entry.MissingAssignments > 0 {
			out = append(out, dto.SubjectMissing{Subject: entry.Subject, Count: entry.MissingAssignments})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

// InputStreak counts consecutive calendar days with at least one record,
// walking backward from the newest entry. The streak is live only when
// that entry is from today or yesterday.
func InputStreak(records []models.GradeRecord, today dateutil.Date) int {
	if len(records) == 0 {
		return 0
	}

	days := make(map[string]struct{}, len(records))
	newest := ""
	for _, record := range records {
		d, err := dateutil.Normalize(record.Date)
		if err != nil {
			continue
		}
		canonical := d.String()
		days[canonical] = struct{}{}
		if canonical > newest {
			newest = canonical
		}
	}
	if newest == "" {
		return 0
	}

	if newest != today.String() && newest != today.AddDays(-1).String() {
		return 0
	}

	streak := 1
	cursor, _ := dateutil.Normalize(newest)
	for {
		cursor = cursor.AddDays(-1)
		if _, ok := days[cursor.String()]; !ok {
			break
		}
		streak++
	}
	return streak
}

// SubjectSummaries aggregates attended grades per subject (normalized
// to percentage), sorted by subject name. Latest follows record date
// order, newest record winning.
func SubjectSummaries(records []models.GradeRecord) []dto.SubjectSummary {
	type agg struct {
		name       string
		latest     float64
		latestDate string
		sum        float64
		count      int
		highest    float64
		lowest     float64
	}

	bySubject := make(map[string]*agg)
	for _, record := range records {
		for _, entry := range record.Entries {
			if !entry.Attended {
				continue
			}
			pct := NormalizeGrade(entry.Grade, entry.GradingScale)
			key := strings.ToLower(strings.TrimSpace(entry.Subject))
			a, ok := bySubject[key]
			if !ok {
				a = &agg{name: entry.Subject, highest: pct, lowest: pct}
				bySubject[key] = a
			}
			a.sum += pct
			a.count++
			if pct > a.highest {
				a.highest = pct
			}
			if pct < a.lowest {
				a.lowest = pct
			}
			if record.Date > a.latestDate {
				a.latestDate = record.Date
				a.latest = pct
			}
		}
	}

	out := make([]dto.SubjectSummary, 0, len(bySubject))
	for _, a := range bySubject {
		out = append(out, dto.SubjectSummary{
			Subject: a.name,
			Latest:  round2(a.latest),
			Average: round2(a.sum / float64(a.count)),
			Highest: round2(a.highest),
			Lowest:  round2(a.lowest),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// WithClock overrides the reference clock; tests only.
func (s *StatsService) WithClock(now func() dateutil.Date) *StatsService {
	s.now = now
	return s
}

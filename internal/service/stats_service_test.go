package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradetrack/gradesync-api/internal/dateutil"
	"github.com/gradetrack/gradesync-api/internal/dto"
	"github.com/gradetrack/gradesync-api/internal/models"
)

func date(s string) dateutil.Date {
	d, err := dateutil.Normalize(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAverageGrade(t *testing.T) {
	assert.Equal(t, 0, AverageGrade(nil))

	records := []models.GradeRecord{
		record("2025-03-14",
			entry("Math", 90, true),
			entry("History", 80, true),
			// Unattended entries carry no grade signal.
			entry("Art", 10, false),
		),
		record("2025-03-13",
			models.SubjectEntry{Subject: "Math", Grade: 3.0, GradingScale: models.ScaleFourPoint, Attended: true},
		),
	}

	// (90 + 80 + 75) / 3 = 81.67, rounded.
	assert.Equal(t, 82, AverageGrade(records))
}

func TestNormalizeGrade(t *testing.T) {
	assert.Equal(t, float64(75), NormalizeGrade(3.0, models.ScaleFourPoint))
	assert.Equal(t, float64(100), NormalizeGrade(4.0, models.ScaleFourPoint))
	assert.Equal(t, float64(88), NormalizeGrade(88, models.ScalePercentage))
}

func TestGPALetterGradeBoundaries(t *testing.T) {
	tests := []struct {
		pct  float64
		want float64
	}{
		{100, 4.0}, {93, 4.0},
		{92.9, 3.7}, {90, 3.7},
		{89, 3.3}, {87, 3.3},
		{86, 3.0}, {83, 3.0},
		{82, 2.7}, {80, 2.7},
		{79, 2.3}, {77, 2.3},
		{76, 2.0}, {73, 2.0},
		{72, 1.7}, {70, 1.7},
		{69, 1.3}, {67, 1.3},
		{66, 1.0}, {63, 1.0},
		{62, 0.7}, {60, 0.7},
		{59.9, 0.0}, {0, 0.0},
	}
	for _, tt := range tests {
		records := []models.GradeRecord{record("2025-03-14", entry("Math", tt.pct, true))}
		assert.InDelta(t, tt.want, GPA(records), 1e-9, "grade %.1f", tt.pct)
	}
}

func TestGPAEmptyAndFormatting(t *testing.T) {
	assert.Equal(t, "0.00", FormatGPA(GPA(nil)))

	records := []models.GradeRecord{
		record("2025-03-14",
			entry("Math", 95, true),    // 4.0
			entry("History", 85, true), // 3.0
		),
	}
	assert.Equal(t, "3.50", FormatGPA(GPA(records)))
}

func TestGPAFourPointEntriesCountDirectly(t *testing.T) {
	records := []models.GradeRecord{
		record("2025-03-14",
			models.SubjectEntry{Subject: "Math", Grade: 3.7, GradingScale: models.ScaleFourPoint, Attended: true},
		),
	}
	assert.Equal(t, "3.70", FormatGPA(GPA(records)))
}

func TestAttendanceRate(t *testing.T) {
	assert.Equal(t, 100, AttendanceRate(nil))

	records := []models.GradeRecord{
		record("2025-03-14", entry("Math", 90, true), entry("History", 80, false)),
		record("2025-03-13", entry("Math", 85, true), entry("History", 75, true)),
	}
	assert.Equal(t, 75, AttendanceRate(records))
}

func TestMissingAssignmentsUseOnlyMostRecentRecord(t *testing.T) {
	records := []models.GradeRecord{
		record("2025-03-10",
			models.SubjectEntry{Subject: "Math", MissingAssignments: 9, Attended: true},
		),
		record("2025-03-14",
			models.SubjectEntry{Subject: "Math", MissingAssignments: 2, Attended: true},
			models.SubjectEntry{Subject: "History", MissingAssignments: 3, Attended: true},
			models.SubjectEntry{Subject: "Art", MissingAssignments: 0, Attended: true},
		),
	}

	assert.Equal(t, 5, MissingAssignmentsTotal(records))
	assert.Equal(t, []dto.SubjectMissing{
		{Subject: "History", Count: 3},
		{Subject: "Math", Count: 2},
	}, MissingBySubject(records))

	assert.Equal(t, 0, MissingAssignmentsTotal(nil))
	assert.Nil(t, MissingBySubject(nil))
}

func TestInputStreak(t *testing.T) {
	today := date("2025-03-14")

	tests := []struct {
		name    string
		records []models.GradeRecord
		want    int
	}{
		{name: "empty", records: nil, want: 0},
		{
			name: "three consecutive days ending today",
			records: []models.GradeRecord{
				record("2025-03-14"), record("2025-03-13"), record("2025-03-12"),
			},
			want: 3,
		},
		{
			name: "streak ending yesterday still counts",
			records: []models.GradeRecord{
				record("2025-03-13"), record("2025-03-12"),
			},
			want: 2,
		},
		{
			name:    "latest entry two days old breaks the streak",
			records: []models.GradeRecord{record("2025-03-12"), record("2025-03-11")},
			want:    0,
		},
		{
			name: "gap stops the walk",
			records: []models.GradeRecord{
				record("2025-03-14"), record("2025-03-13"), record("2025-03-11"),
			},
			want: 2,
		},
		{
			name: "month boundary",
			records: []models.GradeRecord{
				record("2025-03-14"), record("2025-03-13"), record("2025-03-12"),
				record("2025-03-11"), record("2025-03-10"),
			},
			want: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InputStreak(tt.records, today))
		})
	}
}

func TestInputStreakAcrossMonthBoundary(t *testing.T) {
	today := date("2025-03-01")
	records := []models.GradeRecord{
		record("2025-03-01"), record("2025-02-28"), record("2025-02-27"),
	}
	assert.Equal(t, 3, InputStreak(records, today))
}

func TestFilterByRange(t *testing.T) {
	today := date("2025-03-14")
	records := []models.GradeRecord{
		record("2025-03-14"),
		record("2025-03-08"), // 6 days back, inside the week window
		record("2025-03-06"), // 8 days back, outside it
		record("2024-03-20"), // almost a year back
	}

	week := FilterByRange(records, RangeWeek, today)
	require.Len(t, week, 2)
	assert.Equal(t, "2025-03-14", week[0].Date)
	assert.Equal(t, "2025-03-08", week[1].Date)

	year := FilterByRange(records, RangeYear, today)
	assert.Len(t, year, 4)

	all := FilterByRange(records, RangeAll, today)
	assert.Len(t, all, 4)
}

func TestRangeValidation(t *testing.T) {
	assert.True(t, Range("week").Valid())
	assert.True(t, Range("all").Valid())
	assert.False(t, Range("fortnight").Valid())
	assert.Equal(t, 90, RangeQuarter.Days())
	assert.Equal(t, 0, RangeAll.Days())
}

func TestSubjectSummaries(t *testing.T) {
	records := []models.GradeRecord{
		record("2025-03-14",
			entry("Math", 95, true),
			entry("History", 70, true),
		),
		record("2025-03-13",
			entry("math", 85, true),
			entry("History", 80, false),
		),
	}

	summaries := SubjectSummaries(records)
	require.Len(t, summaries, 2)

	history := summaries[0]
	assert.Equal(t, "History", history.Subject)
	assert.Equal(t, float64(70), history.Latest)
	assert.Equal(t, float64(70), history.Average)

	math := summaries[1]
	assert.Equal(t, "Math", math.Subject)
	assert.Equal(t, float64(95), math.Latest)
	assert.Equal(t, float64(90), math.Average)
	assert.Equal(t, float64(95), math.Highest)
	assert.Equal(t, float64(85), math.Lowest)
}

func TestComputeEmptyRecordSet(t *testing.T) {
	stats := Compute(nil, RangeAll, date("2025-03-14"))

	assert.Equal(t, 0, stats.RecordCount)
	assert.Equal(t, 0, stats.AverageGrade)
	assert.Equal(t, "0.00", stats.GPA)
	assert.Equal(t, 100, stats.AttendanceRate)
	assert.Equal(t, 0, stats.MissingAssignments)
	assert.Equal(t, 0, stats.InputStreakDays)
	assert.Empty(t, stats.Subjects)
}

func TestComputeStreakIgnoresRangeWindow(t *testing.T) {
	today := date("2025-03-14")
	records := []models.GradeRecord{
		record("2025-03-14", entry("Math", 90, true)),
		record("2025-03-13", entry("Math", 80, true)),
		record("2025-03-01", entry("Math", 70, true)),
	}

	stats := Compute(records, RangeWeek, today)

	// The week window drops 2025-03-01 from the aggregates but the streak
	// still walks the full history.
	assert.Equal(t, 2, stats.RecordCount)
	assert.Equal(t, 2, stats.InputStreakDays)
	assert.Equal(t, 85, stats.AverageGrade)
}

func TestStatsServiceComputesOverReconciledRecords(t *testing.T) {
	remote := &fakeRemote{
		user: &models.RemoteUser{ID: 7, Email: "ada@example.com"},
		records: []models.GradeRecord{
			record("2025-03-14", entry("Math", 95, true)),
			record("2025-03-13", entry("Math", 85, true)),
		},
	}
	sync := newTestSyncService(remote, newMemStore())
	stats := NewStatsService(sync, nil, nil).WithClock(func() dateutil.Date {
		return date("2025-03-14")
	})

	result, source, cached, err := stats.Stats(context.Background(), "token", RangeAll)

	require.NoError(t, err)
	assert.Equal(t, SourceRemote, source)
	assert.False(t, cached)
	assert.Equal(t, 2, result.RecordCount)
	assert.Equal(t, 90, result.AverageGrade)
	assert.Equal(t, "3.50", result.GPA)
	assert.Equal(t, 2, result.InputStreakDays)
}

package dto

// SubjectSummary aggregates one subject's attended grades across the
// selected range, normalized to the percentage scale.
type SubjectSummary struct {
	Subject string  `json:"subject"`
	Latest  float64 `json:"latest"`
	Average float64 `json:"average"`
	Highest float64 `json:"highest"`
	Lowest  float64 `json:"lowest"`
}

// SubjectMissing is a per-subject missing assignment count from the
// most recent record.
type SubjectMissing struct {
	Subject string `json:"subject"`
	Count   int    `json:"count"`
}

// StatsResponse carries every derived dashboard metric.
type StatsResponse struct {
	Range              string           `json:"range"`
	RecordCount        int              `json:"recordCount"`
	AverageGrade       int              `json:"averageGrade"`
	GPA                string           `json:"gpa"`
	AttendanceRate     int              `json:"attendanceRate"`
	MissingAssignments int              `json:"missingAssignments"`
	MissingBySubject   []SubjectMissing `json:"missingBySubject"`
	InputStreakDays    int              `json:"inputStreakDays"`
	Subjects           []SubjectSummary `json:"subjects"`
}

package models

// GradingScale identifies how a grade value should be interpreted.
type GradingScale string

const (
	// ScalePercentage grades live in [0, 100].
	ScalePercentage GradingScale = "percentage"
	// ScaleFourPoint grades live in [0, 4].
	ScaleFourPoint GradingScale = "fourPoint"
)

// Bounds returns the inclusive range a grade on this scale must fall in.
func (s GradingScale) Bounds() (min, max float64) {
	if s == ScaleFourPoint {
		return 0, 4
	}
	return 0, 100
}

// Valid reports whether the scale is one of the known values.
func (s GradingScale) Valid() bool {
	return s == ScalePercentage || s == ScaleFourPoint
}

// SubjectEntry is one subject's result within a daily record.
type SubjectEntry struct {
	Subject            string       `json:"subject"`
	Grade              float64      `json:"grade"`
	GradingScale       GradingScale `json:"gradingScale"`
	Attended           bool         `json:"attended"`
	MissingAssignments int          `json:"missingAssignments"`
}

// GradeRecord holds one day's grade entries for a single owner.
// Identity for merge purposes is (owner, Date); Date is always the
// canonical YYYY-MM-DD form.
type GradeRecord struct {
	// LocalID tags records created while the remote was unreachable so
	// they can be recognised until the next successful sync.
	LocalID  string         `json:"localId,omitempty"`
	RemoteID int64          `json:"remoteId,omitempty"`
	Date     string         `json:"date"`
	Entries  []SubjectEntry `json:"entries"`
}

// Synced reports whether the record is known to the remote service.
func (r GradeRecord) Synced() bool {
	return r.RemoteID != 0
}

// RemoteUser is the identity the CMS resolves for a bearer token.
type RemoteUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

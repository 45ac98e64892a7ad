package models

import "time"

// AttendanceDirection is stored per event to keep queries simple; the
// observable check-in/check-out state is still derived from the parity of the
// day's event count.
type AttendanceDirection string

const (
	DirectionIn  AttendanceDirection = "in"
	DirectionOut AttendanceDirection = "out"
)

// Valid returns true when the direction is a supported value.
func (d AttendanceDirection) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Opposite returns the alternating direction.
func (d AttendanceDirection) Opposite() AttendanceDirection {
	if d == DirectionIn {
		return DirectionOut
	}
	return DirectionIn
}

// AttendanceSource records how an event was produced.
type AttendanceSource string

const (
	SourceToggle AttendanceSource = "toggle"
	SourceQR     AttendanceSource = "qr"
	SourceManual AttendanceSource = "manual"
)

// AttendanceEvent is one immutable scan/check action. Events are append-only:
// they are never updated or deleted.
type AttendanceEvent struct {
	ID         string              `db:"id" json:"id"`
	StudentID  string              `db:"student_id" json:"student_id"`
	LibraryID  string              `db:"library_id" json:"library_id"`
	RecordedAt time.Time           `db:"recorded_at" json:"recorded_at"`
	Direction  AttendanceDirection `db:"direction" json:"direction"`
	Source     AttendanceSource    `db:"source" json:"source"`
	Notes      *string             `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time           `db:"created_at" json:"created_at"`
}

// DayStatus classifies one student-day derived from its event stream.
type DayStatus string

const (
	DayStatusAbsent    DayStatus = "Absent"
	DayStatusOngoing   DayStatus = "Ongoing"
	DayStatusCompleted DayStatus = "Completed"
)

// AttendanceDay is the derived per-day view of a student's events. It is
// computed, never persisted as a mutable row.
type AttendanceDay struct {
	Date         time.Time  `json:"date"`
	FirstIn      *time.Time `json:"first_in,omitempty"`
	LastOut      *time.Time `json:"last_out,omitempty"`
	TotalScans   int        `json:"total_scans"`
	Status       DayStatus  `json:"status"`
	DurationText string     `json:"duration_text"`
}

// CheckState is the live toggle state of a student.
type CheckState string

const (
	CheckedIn  CheckState = "checked_in"
	CheckedOut CheckState = "checked_out"
)

// AttendanceStatus is the answer to "where does this student stand today".
type AttendanceStatus struct {
	StudentID      string              `json:"student_id"`
	Date           time.Time           `json:"date"`
	HasMarkedToday bool                `json:"has_marked_today"`
	NextAction     AttendanceDirection `json:"next_action"`
	TotalScans     int                 `json:"total_scans"`
	FirstIn        *time.Time          `json:"first_in,omitempty"`
	LastOut        *time.Time          `json:"last_out,omitempty"`
	CurrentStatus  CheckState          `json:"current_status"`
}

// ToggleResult reports the outcome of one toggle/QR mark.
type ToggleResult struct {
	Action     string           `json:"action"`
	Record     *AttendanceEvent `json:"record"`
	TotalToday int              `json:"total_today"`
}

// QRPayload is the structure embedded in attendance QR codes. It is produced
// by the excluded QR-generation component; the core only validates that it
// parses and names the caller's library.
type QRPayload struct {
	LibraryID string `json:"library_id"`
	Token     string `json:"token"`
	IssuedAt  int64  `json:"issued_at"`
}

// OrgAttendanceFilter scopes the staff-facing cross-student view.
type OrgAttendanceFilter struct {
	LibraryID string
	Search    string
	Date      *time.Time
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}

// OrgAttendanceRow is one student-day in the staff dashboard, joined with
// membership fields so overdue fees are visible next to presence.
type OrgAttendanceRow struct {
	StudentID     string     `db:"student_id" json:"student_id"`
	StudentName   string     `db:"student_name" json:"student_name"`
	Phone         string     `db:"phone" json:"phone"`
	Date          time.Time  `db:"date" json:"date"`
	FirstIn       *time.Time `db:"first_in" json:"first_in,omitempty"`
	LastOut       *time.Time `db:"last_out" json:"last_out,omitempty"`
	TotalScans    int        `db:"total_scans" json:"total_scans"`
	MembershipEnd time.Time  `db:"membership_end" json:"membership_end"`
	Active        bool       `db:"active" json:"active"`
	DueAmount     float64    `db:"due_amount" json:"due_amount"`

	Status           DayStatus        `db:"-" json:"status"`
	DurationText     string           `db:"-" json:"duration_text"`
	MembershipStatus MembershipStatus `db:"-" json:"membership_status"`
}

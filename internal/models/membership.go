package models

import "time"

// MembershipStatus classifies a student's current membership.
type MembershipStatus string

const (
	MembershipActive       MembershipStatus = "Active"
	MembershipExpiringSoon MembershipStatus = "ExpiringSoon"
	MembershipExpired      MembershipStatus = "Expired"
	MembershipInactive     MembershipStatus = "Inactive"
)

// Valid returns true when the status is a supported value.
func (s MembershipStatus) Valid() bool {
	switch s {
	case MembershipActive, MembershipExpiringSoon, MembershipExpired, MembershipInactive:
		return true
	default:
		return false
	}
}

// GrantsAccess reports whether the status permits entry. ExpiringSoon is a
// reporting flag, not an access restriction.
func (s MembershipStatus) GrantsAccess() bool {
	return s == MembershipActive || s == MembershipExpiringSoon
}

// MembershipHistoryRecord is an immutable snapshot of one membership period,
// written at renewal time before the student row is overwritten. Rows are
// append-only and form the audit trail; the student row stays authoritative
// for the current period.
type MembershipHistoryRecord struct {
	ID              string    `db:"id" json:"id"`
	StudentID       string    `db:"student_id" json:"student_id"`
	LibraryID       string    `db:"library_id" json:"library_id"`
	MembershipStart time.Time `db:"membership_start" json:"membership_start"`
	MembershipEnd   time.Time `db:"membership_end" json:"membership_end"`
	FeeBreakdown
	BranchID  *string   `db:"branch_id" json:"branch_id,omitempty"`
	SeatID    *string   `db:"seat_id" json:"seat_id,omitempty"`
	ShiftID   *string   `db:"shift_id" json:"shift_id,omitempty"`
	LockerID  *string   `db:"locker_id" json:"locker_id,omitempty"`
	Remark    *string   `db:"remark" json:"remark,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MembershipRenewal carries the fields a renewal writes onto the student row.
// Fee fields arrive already reconciled by the fee ledger. Nil reference ids
// keep the student's current assignment.
type MembershipRenewal struct {
	MembershipStart time.Time
	MembershipEnd   time.Time
	Fees            FeeBreakdown
	BranchID        *string
	SeatID          *string
	ShiftID         *string
	LockerID        *string
	Remark          *string
}

// ExpiringMembershipRow is one entry in the expiring-soon report.
type ExpiringMembershipRow struct {
	StudentID     string    `db:"student_id" json:"student_id"`
	StudentName   string    `db:"student_name" json:"student_name"`
	Phone         string    `db:"phone" json:"phone"`
	MembershipEnd time.Time `db:"membership_end" json:"membership_end"`
	DueAmount     float64   `db:"due_amount" json:"due_amount"`
	DaysLeft      int       `db:"-" json:"days_left"`
}

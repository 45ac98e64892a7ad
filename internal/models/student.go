package models

import "time"

// Student is a person enrolled at a library. The membership window and fee
// fields on the row describe the *current* period; prior periods live in
// membership_history.
type Student struct {
	ID             string  `db:"id" json:"id"`
	LibraryID      string  `db:"library_id" json:"library_id"`
	BranchID       *string `db:"branch_id" json:"branch_id,omitempty"`
	Name           string  `db:"name" json:"name"`
	Phone          string  `db:"phone" json:"phone"`
	Email          *string `db:"email" json:"email,omitempty"`
	Address        *string `db:"address" json:"address,omitempty"`
	RegistrationNo *string `db:"registration_no" json:"registration_no,omitempty"`
	FatherName     *string `db:"father_name" json:"father_name,omitempty"`
	GovernmentID   *string `db:"government_id" json:"government_id,omitempty"`
	SeatID         *string `db:"seat_id" json:"seat_id,omitempty"`
	ShiftID        *string `db:"shift_id" json:"shift_id,omitempty"`
	LockerID       *string `db:"locker_id" json:"locker_id,omitempty"`

	MembershipStart time.Time `db:"membership_start" json:"membership_start"`
	MembershipEnd   time.Time `db:"membership_end" json:"membership_end"`
	// Active is a manual override distinct from expiry: an inactive student
	// keeps their dates but loses access and frees their seat.
	Active bool `db:"active" json:"active"`

	FeeBreakdown

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter scopes student listing queries.
type StudentFilter struct {
	LibraryID string
	BranchID  string
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// StudentDetail joins the student row with its derived membership status.
type StudentDetail struct {
	Student
	Status MembershipStatus `db:"-" json:"status"`
}

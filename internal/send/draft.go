package send

import (
	"time"

	"aksiyonbot/internal/attach"
	"aksiyonbot/internal/store"
)

// Draft is one operator's in-progress send batch. It is a value owned by
// the calling session, created from the worklist and discarded after a
// successful send (or an explicit reset), never process-wide state.
type Draft struct {
	Date     time.Time
	Operator string
	Items    []*Item
}

// Item is one candidate row with the operator's selections.
type Item struct {
	Row        store.DayRow
	Selections map[string]string // placeholder name -> chosen value
	Attachment attach.Selection

	state State
	text  string // resolved message, set during validation
	image []byte // fetched screenshot, set during validation
}

// State is the per-row position in the send state machine.
//
//	Candidate -> Validated -> Reserved -> Delivered
//	                       \-> SkippedLocked      (lost the reservation race)
//	          \-> Rejected                        (validation failure)
//	Reserved  -> RolledBack                       (delivery failed)
type State string

const (
	StateCandidate     State = "candidate"
	StateValidated     State = "validated"
	StateRejected      State = "rejected"
	StateReserved      State = "reserved"
	StateSkippedLocked State = "skipped_locked"
	StateDelivered     State = "delivered"
	StateRolledBack    State = "rolled_back"
)

// RowError is a per-row problem reported back to the operator.
type RowError struct {
	RowID  int64  `json:"row_id"`
	Detail string `json:"detail"`
}

// Outcome is the terminal state of one row after a pipeline run.
type Outcome struct {
	RowID  int64  `json:"row_id"`
	State  State  `json:"state"`
	Detail string `json:"detail,omitempty"`
}

// Report summarizes one pipeline run.
type Report struct {
	Outcomes      []Outcome  `json:"outcomes"`
	Delivered     int        `json:"delivered"`
	SkippedLocked int        `json:"skipped_locked"`
	Rejections    []RowError `json:"rejections,omitempty"`

	// DeliveryError is set when the batch stopped on a transport failure.
	// The failing row was rolled back; later rows were not attempted.
	DeliveryError string `json:"delivery_error,omitempty"`
}

// Sent reports whether the run delivered anything.
func (r *Report) Sent() bool { return r.Delivered > 0 }

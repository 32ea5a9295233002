package kafka

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type EventType string

const (
	EventLoanCreated   EventType = "LOAN_CREATED"
	EventLoanReturned  EventType = "LOAN_RETURNED"
	EventLoanRenewed   EventType = "LOAN_RENEWED"
	EventLoanOverdue   EventType = "LOAN_OVERDUE"
	EventHoldPlaced    EventType = "HOLD_PLACED"
	EventHoldReady     EventType = "HOLD_READY"
	EventHoldCompleted EventType = "HOLD_COMPLETED"
	EventHoldCancelled EventType = "HOLD_CANCELLED"
	EventHoldExpired   EventType = "HOLD_EXPIRED"
	EventCopyReleased  EventType = "COPY_RELEASED"
)

// EventCirculation is one committed circulation transition, consumed by the stats pipeline.
type EventCirculation struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"eventType"`
	MemberID  string    `json:"memberId,omitempty"`
	ItemID    string    `json:"itemId"`
	CopyID    string    `json:"copyId,omitempty"`
	LoanID    string    `json:"loanId,omitempty"`
	HoldID    string    `json:"holdId,omitempty"`
	Fine      float64   `json:"fine,omitempty"`
}

type EventAvailability struct {
	Timestamp      time.Time `json:"timestamp"`
	ItemID         string    `json:"itemId"`
	AvailableCount int       `json:"availableCount"`
}

type CopyReleasedMessage struct {
	Barcode string `json:"barcode"`
}

func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

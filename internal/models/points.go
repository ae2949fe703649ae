package models

import "time"

type PointHistoryType string

const (
	PointsReceived PointHistoryType = "RECEIVED"
	PointsUsed     PointHistoryType = "USED"
)

// UserPointHistory is one ledger entry. AmountBefore and AmountNow are wallet
// balances around the mutation, not a delta.
type UserPointHistory struct {
	ID                      int64
	UserID                  int64
	AmountBefore            int64
	AmountNow               int64
	Type                    PointHistoryType
	Information             string
	OrderID                 *int64
	OperationID             *int64
	ReturnedPointsHistoryID *int64
	ExtraData               map[string]any
	InternalData            map[string]any
	CreatedAt               time.Time
}

func (h *UserPointHistory) Delta() int64 {
	d := h.AmountBefore - h.AmountNow
	if d < 0 {
		return -d
	}
	return d
}

type OperationStatus string

const (
	OperationPending       OperationStatus = "PENDING"
	OperationProcessing    OperationStatus = "PROCESSING"
	OperationDone          OperationStatus = "DONE"
	OperationPartiallyDone OperationStatus = "PARTIALLY_DONE"
	OperationError         OperationStatus = "ERROR"
)

func (s OperationStatus) IsTerminal() bool {
	return s == OperationDone || s == OperationPartiallyDone || s == OperationError
}

func (s OperationStatus) Valid() bool {
	switch s {
	case OperationPending, OperationProcessing, OperationDone, OperationPartiallyDone, OperationError:
		return true
	}
	return false
}

// Operation is a long-running external job paid for with points up front.
type Operation struct {
	ID                      int64
	UserID                  int64
	Kind                    string
	ExternalID              string
	Status                  OperationStatus
	PercentageDone          int
	SpentPoints             int64
	SpendHistoryID          *int64
	ReturnedPointsHistoryID *int64
	RefundClosed            bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (op *Operation) Refunded() bool {
	return op.ReturnedPointsHistoryID != nil || op.RefundClosed
}

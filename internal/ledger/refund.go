package ledger

import "PointsSettlement/internal/models"

// Refund is the result of RefundAmount. Anomaly is set for an ERROR operation
// that still reports progress: it is refunded in full but must be reported.
type Refund struct {
	Points  int64
	Anomaly bool
}

// RefundAmount returns the points owed back for a finished operation.
// ERROR returns everything spent; PARTIALLY_DONE returns the missing share, floored.
func RefundAmount(status models.OperationStatus, spentPoints int64, percentageDone int) Refund {
	if spentPoints <= 0 {
		return Refund{}
	}
	switch status {
	case models.OperationError:
		return Refund{Points: spentPoints, Anomaly: percentageDone > 0}
	case models.OperationPartiallyDone:
		p := percentageDone
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		return Refund{Points: spentPoints * int64(100-p) / 100}
	default:
		return Refund{}
	}
}

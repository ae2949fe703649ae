package models

type OrderStatus string

const (
	OrderPrepared  OrderStatus = "PREPARED"
	OrderPending   OrderStatus = "PENDING"
	OrderActivated OrderStatus = "ACTIVATED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderError     OrderStatus = "ERROR"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPrepared: {OrderPending, OrderActivated, OrderCancelled, OrderError},
	OrderPending:  {OrderActivated, OrderError},
	// ERROR can still be rescued by a late settlement success.
	OrderError: {OrderActivated},
}

func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPrepared, OrderPending, OrderActivated, OrderCancelled, OrderError:
		return true
	}
	return false
}

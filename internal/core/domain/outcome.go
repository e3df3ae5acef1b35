package domain

import "fmt"

type OutcomeStatus string

const (
	OutcomeCommitted         OutcomeStatus = "committed"
	OutcomeItemNotFound      OutcomeStatus = "item_not_found"
	OutcomeInsufficientStock OutcomeStatus = "insufficient_stock"
	OutcomeTransactionFailed OutcomeStatus = "transaction_failed"
)

// Outcome is the terminal result of one order placement.
type Outcome struct {
	Status OutcomeStatus

	// Order is set only when Status is OutcomeCommitted.
	Order Order

	// Available is the stock observed under lock when Status is OutcomeInsufficientStock.
	Available int

	// Cause is set only when Status is OutcomeTransactionFailed.
	Cause error
}

func (o Outcome) Committed() bool {
	return o.Status == OutcomeCommitted
}

func (o Outcome) OrderID() int64 {
	return o.Order.ID
}

// Err returns nil for a committed outcome and an error matching the rejection otherwise.
func (o Outcome) Err() error {
	switch o.Status {
	case OutcomeCommitted:
		return nil
	case OutcomeItemNotFound:
		return ErrItemNotFound
	case OutcomeInsufficientStock:
		return ErrInsufficientStock
	default:
		return &TransactionError{Cause: o.Cause}
	}
}

// TransactionError reports a unit of work that was rolled back because of an
// infrastructure failure.
type TransactionError struct {
	Cause error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction failed: %v", e.Cause)
}

func (e *TransactionError) Unwrap() error {
	return e.Cause
}

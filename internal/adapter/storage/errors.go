package storage

import "errors"

var (
	// ErrLockTimeout is returned when an item lock could not be acquired in time,
	// including deadlocks reported by the database.
	ErrLockTimeout = errors.New("lock wait timeout")

	// ErrStockConflict means a guarded decrement matched no row. It cannot happen
	// while the item lock is held and the stock was checked.
	ErrStockConflict = errors.New("stock decrement conflict")

	ErrTxDone    = errors.New("transaction already finished")
	ErrNotLocked = errors.New("item not locked in this transaction")
)

package domain

import "errors"

var (
	ErrItemNotFound      = errors.New("item not found")
	ErrItemInUse         = errors.New("item is referenced by orders")
	ErrUserNotFound      = errors.New("user not found")
	ErrUserExists        = errors.New("username already taken")
	ErrInsufficientStock = errors.New("insufficient stock")
)

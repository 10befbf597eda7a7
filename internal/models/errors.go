package models

import (
	"errors"
	"fmt"
)

var (
	// ErrProductNotFound is returned when the product doesn't exist
	ErrProductNotFound = errors.New("product not found")

	// ErrProductOptionNotFound is returned when the product option doesn't exist
	ErrProductOptionNotFound = errors.New("product option not found")

	// ErrOrderNotFound is returned when the order doesn't exist
	ErrOrderNotFound = errors.New("order not found")

	// ErrPaymentNotFound is returned when the payment doesn't exist
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrUserNotFound is returned when the user doesn't exist
	ErrUserNotFound = errors.New("user not found")

	// ErrInsufficientStock is returned when a decrement would drive stock below zero
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientBalance is returned when the user's balance can't cover a payment
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidQuantity is returned for zero or negative quantities
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrLockUnavailable is returned when the distributed lock can't be obtained
	ErrLockUnavailable = errors.New("lock unavailable")

	// ErrInfrastructure is returned when the shared store or database is unreachable
	ErrInfrastructure = errors.New("infrastructure error")

	// ErrInvalidStateTransition is returned for a status change the lifecycle forbids
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrGateway is returned when the payment gateway call itself fails
	ErrGateway = errors.New("payment gateway error")
)

// NotFoundError identifies the missing entity
type NotFoundError struct {
	Entity string
	ID     int64
	Err    error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// NewNotFoundError builds a NotFoundError for a sentinel such as ErrOrderNotFound.
func NewNotFoundError(entity string, id int64, sentinel error) error {
	return &NotFoundError{Entity: entity, ID: id, Err: sentinel}
}

// InsufficientStockError carries the rejected decrement
type InsufficientStockError struct {
	OptionID  int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product option %d: requested %d, available %d",
		e.OptionID, e.Requested, e.Available)
}

// Is checks if the target error is ErrInsufficientStock
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InsufficientBalanceError carries the rejected debit
type InsufficientBalanceError struct {
	UserID    int64
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for user %d: required %d, available %d",
		e.UserID, e.Required, e.Available)
}

// Is checks if the target error is ErrInsufficientBalance
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// InvalidTransitionError describes a rejected status change
type InvalidTransitionError struct {
	Entity string
	ID     int64
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %d cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

// Is checks if the target error is ErrInvalidStateTransition
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// IsNotFound checks if the error is any "not found" kind
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrProductOptionNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

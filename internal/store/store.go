package store

import (
	"context"
	"errors"
	"fmt"

	"poslot/backend/internal/domain"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidIndex      = errors.New("invalid item index")
	ErrOverReturn        = errors.New("return exceeds returnable quantity")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("concurrent modification")
	ErrNotFound          = errors.New("not found")
	ErrPersistence       = errors.New("persistence unavailable")
)

// LineError identifies the request line that caused a validation failure.
// Kind is one of ErrValidation, ErrInvalidIndex or ErrOverReturn.
type LineError struct {
	Kind      error
	Line      int
	ItemIndex int
	Field     string
	Message   string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%v: line %d (item_index=%d, field=%s): %s", e.Kind, e.Line, e.ItemIndex, e.Field, e.Message)
}

func (e *LineError) Unwrap() error {
	return e.Kind
}

type InsufficientStockError struct {
	CashierID string
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%v: cashier %s product %s requested %d, available %d", ErrInsufficientStock, e.CashierID, e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// Invalid builds a validation error that is not tied to a request line.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Persistence classifies a storage failure. Conflict and not-found errors
// pass through unchanged so callers can still match them.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// IsRetryable reports whether the caller may retry the whole request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrPersistence)
}

type LotRepository interface {
	CreateLot(ctx context.Context, lot domain.DistributionLot) (*domain.DistributionLot, error)
	GetLot(ctx context.Context, id string) (*domain.DistributionLot, error)
	FindActiveLots(ctx context.Context, cashierID string) ([]domain.DistributionLot, error)
	FindLatestLot(ctx context.Context, cashierID string) (*domain.DistributionLot, error)
	ListLots(ctx context.Context, filter domain.LotFilter) ([]domain.DistributionLot, error)
	SaveLot(ctx context.Context, lot domain.DistributionLot) (*domain.DistributionLot, error)
}

type TransactionRepository interface {
	CreateTransaction(ctx context.Context, tx domain.TransactionRecord) (*domain.TransactionRecord, error)
	FindTransactionByID(ctx context.Context, id string) (*domain.TransactionRecord, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.TransactionRecord, error)
	SaveTransaction(ctx context.Context, tx domain.TransactionRecord) (*domain.TransactionRecord, error)
}

type ProductRepository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
}

type ReturnIntentRepository interface {
	CreateReturnIntent(ctx context.Context, intent domain.ReturnIntent) (*domain.ReturnIntent, error)
	GetReturnIntent(ctx context.Context, id string) (*domain.ReturnIntent, error)
	UpdateReturnIntent(ctx context.Context, intent domain.ReturnIntent) (*domain.ReturnIntent, error)
	ListReturnIntents(ctx context.Context, status string, limit int) ([]domain.ReturnIntent, error)
}

type AuditRepository interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	LotRepository
	TransactionRepository
	ProductRepository
	ReturnIntentRepository
	AuditRepository
	UserRepository
}

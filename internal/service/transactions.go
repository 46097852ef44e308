package service

import (
	"context"
	"strings"

	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
)

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.TransactionRecord, error) {
	tx, err := s.findTransaction(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	if _, err := requireCashierAccess(ctx, tx.CashierID); err != nil {
		return domain.TransactionRecord{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) (domain.TransactionListResponse, error) {
	cashierID, err := cashierScope(ctx, filter.CashierID)
	if err != nil {
		return domain.TransactionListResponse{}, err
	}
	filter.CashierID = cashierID
	filter.Status = strings.ToLower(strings.TrimSpace(filter.Status))
	switch filter.Status {
	case "", domain.TxStatusCompleted, domain.TxStatusRefunded, domain.TxStatusCancelled:
	default:
		return domain.TransactionListResponse{}, store.Invalid("unknown transaction status %q", filter.Status)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	txs, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return domain.TransactionListResponse{}, store.Persistence("list transactions", err)
	}
	return domain.TransactionListResponse{Transactions: txs}, nil
}

func (s *Service) findTransaction(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	if id == "" {
		return nil, store.Invalid("transaction id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return nil, store.Persistence("find transaction "+id, err)
	}
	return tx, nil
}

func (s *Service) saveTransaction(ctx context.Context, tx domain.TransactionRecord) (*domain.TransactionRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	saved, err := s.repo.SaveTransaction(ctx, tx)
	if err != nil {
		return nil, store.Persistence("save transaction "+tx.ID, err)
	}
	return saved, nil
}

package service

import (
	"context"
	"fmt"
	"strings"

	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
)

func (s *Service) ListReturnIntents(ctx context.Context, status string, limit int) (domain.ReturnIntentListResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.ReturnIntentListResponse{}, err
	}
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", domain.IntentStatusPending, domain.IntentStatusCompleted, domain.IntentStatusNeedsReconciliation, domain.IntentStatusResolved:
	default:
		return domain.ReturnIntentListResponse{}, store.Invalid("unknown intent status %q", status)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	intents, err := s.repo.ListReturnIntents(ctx, status, limit)
	if err != nil {
		return domain.ReturnIntentListResponse{}, store.Persistence("list return intents", err)
	}
	return domain.ReturnIntentListResponse{Intents: intents}, nil
}

// ResolveReturnIntent closes an intent an operator has reconciled by hand.
// Pending intents older than a crash are resolvable too.
func (s *Service) ResolveReturnIntent(ctx context.Context, id string, req domain.ReturnIntentResolveRequest) (domain.ReturnIntent, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.ReturnIntent{}, err
	}
	id = strings.TrimSpace(id)
	note := strings.TrimSpace(req.Note)
	if id == "" || note == "" {
		return domain.ReturnIntent{}, store.Invalid("intent id and resolution note are required")
	}

	getCtx, cancel := s.withTimeout(ctx)
	intent, err := s.repo.GetReturnIntent(getCtx, id)
	cancel()
	if err != nil {
		return domain.ReturnIntent{}, store.Persistence("get return intent "+id, err)
	}
	if intent.Status != domain.IntentStatusNeedsReconciliation && intent.Status != domain.IntentStatusPending {
		return domain.ReturnIntent{}, store.Invalid("intent %s is %s and cannot be resolved", intent.ID, intent.Status)
	}

	intent.Status = domain.IntentStatusResolved
	intent.ResolutionNote = note

	updCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	updated, err := s.repo.UpdateReturnIntent(updCtx, *intent)
	if err != nil {
		return domain.ReturnIntent{}, store.Persistence("update return intent "+id, err)
	}

	s.logAudit(ctx, "return_intent_resolve", "return_intent", updated.ID, fmt.Sprintf("transaction=%s", updated.TransactionID))
	return *updated, nil
}

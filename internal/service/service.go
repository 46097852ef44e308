package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"poslot/backend/internal/allocator"
	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
	"poslot/backend/internal/xid"
)

// ErrForbidden is returned when the actor in the context may not perform
// the operation.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Catalog is the product lookup the service depends on. Implementations may
// cache; GetProduct returns store.ErrNotFound for unknown ids.
type Catalog interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
}

type Service struct {
	repo        store.Repository
	allocator   *allocator.Allocator
	catalog     Catalog
	logger      *zap.Logger
	now         func() time.Time
	maxAttempts int
	opTimeout   time.Duration
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

func New(repo store.Repository, alloc *allocator.Allocator, catalog Catalog, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:        repo,
		allocator:   alloc,
		catalog:     catalog,
		logger:      logger.Named("service"),
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: allocator.DefaultMaxAttempts,
		opTimeout:   allocator.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

// requireCashierAccess allows admins, and cashiers acting on their own stock.
func requireCashierAccess(ctx context.Context, cashierID string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	if actor.Role == domain.RoleAdmin {
		return actor, nil
	}
	if actor.Role == domain.RoleCashier && strings.EqualFold(actor.Username, strings.TrimSpace(cashierID)) {
		return actor, nil
	}
	return domain.Actor{}, ErrForbidden
}

// cashierScope returns the cashier filter a list call is limited to.
func cashierScope(ctx context.Context, requested string) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return "", ErrForbidden
	}
	requested = strings.TrimSpace(requested)
	if actor.Role == domain.RoleAdmin {
		return requested, nil
	}
	if requested != "" && !strings.EqualFold(requested, actor.Username) {
		return "", ErrForbidden
	}
	return actor.Username, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	logs, err := s.repo.ListAuditLogs(ctx, limit)
	if err != nil {
		return nil, store.Persistence("list audit logs", err)
	}
	return logs, nil
}

// productMeta enriches a line with catalog metadata. Unknown products keep
// whatever metadata the caller already has.
func (s *Service) productMeta(ctx context.Context, productID string) (*domain.Product, error) {
	if s.catalog == nil {
		return nil, store.ErrNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, store.Persistence("get product "+productID, err)
	}
	return product, nil
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func maxInt64(a int64, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

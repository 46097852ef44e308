package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
	"poslot/backend/internal/xid"
)

type Store struct {
	mu                sync.RWMutex
	now               func() time.Time
	products          map[string]domain.Product
	lotsByID          map[string]domain.DistributionLot
	transactionsByID  map[string]domain.TransactionRecord
	returnIntentsByID map[string]domain.ReturnIntent
	auditLogs         []domain.AuditLog
	usersByUsername   map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		now:               func() time.Time { return time.Now().UTC() },
		products:          make(map[string]domain.Product),
		lotsByID:          make(map[string]domain.DistributionLot),
		transactionsByID:  make(map[string]domain.TransactionRecord),
		returnIntentsByID: make(map[string]domain.ReturnIntent),
		auditLogs:         make([]domain.AuditLog, 0, 128),
		usersByUsername:   make(map[string]domain.UserAccount),
	}
}

// WithClock replaces the timestamp source used for created/updated times.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// dev defaults are used with a warning when unset.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier-a", cashierPwd, domain.RoleCashier},
		{"cashier-b", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			logger.Error("memory store skipped seed account", zap.String("username", u.username), zap.Error(err))
			continue
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a demo catalog and user accounts. A nil
// logger discards seed warnings.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	for _, p := range []domain.Product{
		{ID: "prd-mie-01", Name: "Mie Goreng Instan", SKU: "SKU-MIE-01", Category: "grocery", PriceCents: 3500, Active: true},
		{ID: "prd-telur-01", Name: "Telur 10 Butir", SKU: "SKU-TELUR-01", Category: "grocery", PriceCents: 26500, Active: true},
		{ID: "prd-susu-01", Name: "Susu UHT 1L", SKU: "SKU-SUSU-01", Category: "dairy", PriceCents: 18900, Active: true},
		{ID: "prd-kopi-01", Name: "Kopi Sachet", SKU: "SKU-KOPI-01", Category: "beverage", PriceCents: 2600, Active: true},
		{ID: "prd-sabun-01", Name: "Sabun Mandi", SKU: "SKU-SABUN-01", Category: "household", PriceCents: 7400, Active: true},
	} {
		s.products[p.ID] = p
	}
	s.usersByUsername = seedUsers(logger)
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	product.ID = domain.CanonicalProductID(product.ID)
	if product.ID == "" || product.Name == "" || product.PriceCents < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, store.Invalid("product %s already exists", product.ID)
	}
	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[domain.CanonicalProductID(id)]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) CreateLot(_ context.Context, lot domain.DistributionLot) (*domain.DistributionLot, error) {
	if strings.TrimSpace(lot.CashierID) == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	if _, exists := s.lotsByID[lot.ID]; exists {
		return nil, store.ErrConflict
	}
	now := s.now()
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = now
	}
	lot.UpdatedAt = now
	lot.Version = 1
	lot = canonicalLot(lot)

	s.lotsByID[lot.ID] = lot.Clone()
	created := lot.Clone()
	return &created, nil
}

func (s *Store) GetLot(_ context.Context, id string) (*domain.DistributionLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lot, ok := s.lotsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := lot.Clone()
	return &dup, nil
}

func (s *Store) FindActiveLots(_ context.Context, cashierID string) ([]domain.DistributionLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DistributionLot, 0, 8)
	for _, lot := range s.lotsByID {
		if lot.CashierID != cashierID || !lot.IsActive() {
			continue
		}
		result = append(result, lot.Clone())
	}
	slices.SortFunc(result, domain.CompareLotFIFO)
	return result, nil
}

func (s *Store) FindLatestLot(_ context.Context, cashierID string) (*domain.DistributionLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.DistributionLot
	for _, lot := range s.lotsByID {
		if lot.CashierID != cashierID {
			continue
		}
		if latest == nil || domain.CompareLotFIFO(lot, *latest) > 0 {
			candidate := lot
			latest = &candidate
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	dup := latest.Clone()
	return &dup, nil
}

func (s *Store) ListLots(_ context.Context, filter domain.LotFilter) ([]domain.DistributionLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit < 1 {
		limit = 200
	}
	result := make([]domain.DistributionLot, 0, 16)
	for _, lot := range s.lotsByID {
		if filter.CashierID != "" && lot.CashierID != filter.CashierID {
			continue
		}
		if filter.Status != "" && lot.Status != filter.Status {
			continue
		}
		result = append(result, lot.Clone())
	}
	slices.SortFunc(result, domain.CompareLotFIFO)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SaveLot(_ context.Context, lot domain.DistributionLot) (*domain.DistributionLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.lotsByID[lot.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.Version != lot.Version {
		return nil, store.ErrConflict
	}
	lot.CreatedAt = current.CreatedAt
	lot.UpdatedAt = s.now()
	lot.Version = current.Version + 1
	lot = canonicalLot(lot)

	s.lotsByID[lot.ID] = lot.Clone()
	saved := lot.Clone()
	return &saved, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.TransactionRecord) (*domain.TransactionRecord, error) {
	if strings.TrimSpace(tx.CashierID) == "" || len(tx.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if _, exists := s.transactionsByID[tx.ID]; exists {
		return nil, store.ErrConflict
	}
	now := s.now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	tx.Version = 1
	if tx.Status == "" {
		tx.Status = domain.TxStatusCompleted
	}

	s.transactionsByID[tx.ID] = tx.Clone()
	created := tx.Clone()
	return &created, nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := tx.Clone()
	return &dup, nil
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	result := make([]domain.TransactionRecord, 0, 16)
	for _, tx := range s.transactionsByID {
		if filter.CashierID != "" && tx.CashierID != filter.CashierID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		result = append(result, tx.Clone())
	}
	slices.SortFunc(result, func(a, b domain.TransactionRecord) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return strings.Compare(b.ID, a.ID)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SaveTransaction(_ context.Context, tx domain.TransactionRecord) (*domain.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.transactionsByID[tx.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.Version != tx.Version {
		return nil, store.ErrConflict
	}
	// Items are immutable once the sale is recorded.
	tx.Items = current.Items
	tx.CreatedAt = current.CreatedAt
	tx.UpdatedAt = s.now()
	tx.Version = current.Version + 1

	s.transactionsByID[tx.ID] = tx.Clone()
	saved := tx.Clone()
	return &saved, nil
}

func (s *Store) CreateReturnIntent(_ context.Context, intent domain.ReturnIntent) (*domain.ReturnIntent, error) {
	if intent.TransactionID == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if intent.ID == "" {
		intent.ID = xid.New("rint")
	}
	now := s.now()
	intent.CreatedAt = now
	intent.UpdatedAt = now
	if intent.Status == "" {
		intent.Status = domain.IntentStatusPending
	}
	s.returnIntentsByID[intent.ID] = intent.Clone()
	created := intent.Clone()
	return &created, nil
}

func (s *Store) GetReturnIntent(_ context.Context, id string) (*domain.ReturnIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, ok := s.returnIntentsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := intent.Clone()
	return &dup, nil
}

func (s *Store) UpdateReturnIntent(_ context.Context, intent domain.ReturnIntent) (*domain.ReturnIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.returnIntentsByID[intent.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	intent.CreatedAt = current.CreatedAt
	intent.UpdatedAt = s.now()
	s.returnIntentsByID[intent.ID] = intent.Clone()
	updated := intent.Clone()
	return &updated, nil
}

func (s *Store) ListReturnIntents(_ context.Context, status string, limit int) ([]domain.ReturnIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.ReturnIntent, 0, 8)
	for _, intent := range s.returnIntentsByID {
		if status != "" && intent.Status != status {
			continue
		}
		result = append(result, intent.Clone())
	}
	slices.SortFunc(result, func(a, b domain.ReturnIntent) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.auditLogs[i])
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.Invalid("username %s already exists", username)
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func canonicalLot(lot domain.DistributionLot) domain.DistributionLot {
	dup := lot.Clone()
	for i := range dup.Items {
		dup.Items[i].ProductID = domain.CanonicalProductID(dup.Items[i].ProductID)
	}
	return dup
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
	"poslot/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const productColumns = `id, name, sku, category, price_cents, active`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Category, &p.PriceCents, &p.Active); err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.ID = domain.CanonicalProductID(product.ID)
	if product.ID == "" || product.Name == "" || product.SKU == "" || product.PriceCents < 0 {
		return nil, store.ErrValidation
	}

	product.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, sku, category, price_cents, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
	`, product.ID, product.Name, product.SKU, product.Category, product.PriceCents, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.Invalid("product %s already exists", product.ID)
		}
		return nil, translate(err)
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, domain.CanonicalProductID(id)))
}

const lotColumns = `id, cashier_id, admin_id, status, source, items, total_value_cents, notes, created_at, updated_at, version`

func scanLot(row rowScanner) (*domain.DistributionLot, error) {
	var (
		lot     domain.DistributionLot
		adminID sql.NullString
		items   []byte
	)
	err := row.Scan(&lot.ID, &lot.CashierID, &adminID, &lot.Status, &lot.Source, &items,
		&lot.TotalValueCents, &lot.Notes, &lot.CreatedAt, &lot.UpdatedAt, &lot.Version)
	if err != nil {
		return nil, translate(err)
	}
	lot.AdminID = adminID.String
	if err := json.Unmarshal(items, &lot.Items); err != nil {
		return nil, fmt.Errorf("decode items of lot %s: %w", lot.ID, err)
	}
	lot.CreatedAt = lot.CreatedAt.UTC()
	lot.UpdatedAt = lot.UpdatedAt.UTC()
	return &lot, nil
}

func (s *Store) queryLots(ctx context.Context, query string, args ...any) ([]domain.DistributionLot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	lots := make([]domain.DistributionLot, 0, 16)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *lot)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return lots, nil
}

func canonicalItems(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, len(items))
	for i, item := range items {
		item.ProductID = domain.CanonicalProductID(item.ProductID)
		out[i] = item
	}
	return out
}

func (s *Store) CreateLot(ctx context.Context, lot domain.DistributionLot) (*domain.DistributionLot, error) {
	if strings.TrimSpace(lot.CashierID) == "" {
		return nil, store.ErrValidation
	}
	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	now := time.Now().UTC()
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = now
	}
	lot.UpdatedAt = now
	lot.Version = 1
	lot.Items = canonicalItems(lot.Items)

	items, err := json.Marshal(lot.Items)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO distribution_lots (`+lotColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, lot.ID, lot.CashierID, nullIfEmpty(lot.AdminID), lot.Status, lot.Source, items,
		lot.TotalValueCents, lot.Notes, lot.CreatedAt, lot.UpdatedAt, lot.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, translate(err)
	}
	return &lot, nil
}

func (s *Store) GetLot(ctx context.Context, id string) (*domain.DistributionLot, error) {
	return scanLot(s.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM distribution_lots WHERE id = $1`, id))
}

func (s *Store) FindActiveLots(ctx context.Context, cashierID string) ([]domain.DistributionLot, error) {
	return s.queryLots(ctx, `
		SELECT `+lotColumns+`
		FROM distribution_lots
		WHERE cashier_id = $1 AND status IN ('pending', 'delivered')
		ORDER BY created_at ASC, id ASC
	`, cashierID)
}

func (s *Store) FindLatestLot(ctx context.Context, cashierID string) (*domain.DistributionLot, error) {
	return scanLot(s.db.QueryRowContext(ctx, `
		SELECT `+lotColumns+`
		FROM distribution_lots
		WHERE cashier_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, cashierID))
}

func (s *Store) ListLots(ctx context.Context, filter domain.LotFilter) ([]domain.DistributionLot, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 200
	}
	return s.queryLots(ctx, `
		SELECT `+lotColumns+`
		FROM distribution_lots
		WHERE ($1::text = '' OR cashier_id = $1)
		  AND ($2::text = '' OR status = $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`, filter.CashierID, filter.Status, limit)
}

// SaveLot writes the lot when the stored version still equals lot.Version.
func (s *Store) SaveLot(ctx context.Context, lot domain.DistributionLot) (*domain.DistributionLot, error) {
	lot.Items = canonicalItems(lot.Items)
	items, err := json.Marshal(lot.Items)
	if err != nil {
		return nil, err
	}

	saved, err := scanLot(s.db.QueryRowContext(ctx, `
		UPDATE distribution_lots
		SET admin_id = $3, status = $4, source = $5, items = $6, total_value_cents = $7,
		    notes = $8, updated_at = now(), version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+lotColumns+`
	`, lot.ID, lot.Version, nullIfEmpty(lot.AdminID), lot.Status, lot.Source, items, lot.TotalValueCents, lot.Notes))
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.missingOrStale(ctx, "distribution_lots", lot.ID)
	}
	return saved, err
}

const txColumns = `id, cashier_id, items, subtotal_cents, overall_discount_cents, total_amount_cents, cash_received_cents, change_cents, status, returned_items, created_at, updated_at, version`

func scanTransaction(row rowScanner) (*domain.TransactionRecord, error) {
	var (
		tx       domain.TransactionRecord
		items    []byte
		returned []byte
	)
	err := row.Scan(&tx.ID, &tx.CashierID, &items, &tx.SubtotalCents, &tx.OverallDiscountCents,
		&tx.TotalAmountCents, &tx.CashReceivedCents, &tx.ChangeCents, &tx.Status, &returned,
		&tx.CreatedAt, &tx.UpdatedAt, &tx.Version)
	if err != nil {
		return nil, translate(err)
	}
	if err := json.Unmarshal(items, &tx.Items); err != nil {
		return nil, fmt.Errorf("decode items of transaction %s: %w", tx.ID, err)
	}
	if err := json.Unmarshal(returned, &tx.ReturnedItems); err != nil {
		return nil, fmt.Errorf("decode returned items of transaction %s: %w", tx.ID, err)
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	return &tx, nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.TransactionRecord) (*domain.TransactionRecord, error) {
	if strings.TrimSpace(tx.CashierID) == "" || len(tx.Items) == 0 {
		return nil, store.ErrValidation
	}
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	tx.Version = 1
	if tx.Status == "" {
		tx.Status = domain.TxStatusCompleted
	}
	if tx.ReturnedItems == nil {
		tx.ReturnedItems = []domain.ReturnedItem{}
	}

	items, err := json.Marshal(tx.Items)
	if err != nil {
		return nil, err
	}
	returned, err := json.Marshal(tx.ReturnedItems)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, tx.ID, tx.CashierID, items, tx.SubtotalCents, tx.OverallDiscountCents, tx.TotalAmountCents,
		tx.CashReceivedCents, tx.ChangeCents, tx.Status, returned, tx.CreatedAt, tx.UpdatedAt, tx.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, translate(err)
	}
	return &tx, nil
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.TransactionRecord, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE ($1::text = '' OR cashier_id = $1)
		  AND ($2::text = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, filter.CashierID, filter.Status, limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	txs := make([]domain.TransactionRecord, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return txs, nil
}

// SaveTransaction updates the return annotations and totals. Sale items are
// never rewritten.
func (s *Store) SaveTransaction(ctx context.Context, tx domain.TransactionRecord) (*domain.TransactionRecord, error) {
	if tx.ReturnedItems == nil {
		tx.ReturnedItems = []domain.ReturnedItem{}
	}
	returned, err := json.Marshal(tx.ReturnedItems)
	if err != nil {
		return nil, err
	}

	saved, err := scanTransaction(s.db.QueryRowContext(ctx, `
		UPDATE transactions
		SET subtotal_cents = $3, total_amount_cents = $4, status = $5, returned_items = $6,
		    updated_at = now(), version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+txColumns+`
	`, tx.ID, tx.Version, tx.SubtotalCents, tx.TotalAmountCents, tx.Status, returned))
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.missingOrStale(ctx, "transactions", tx.ID)
	}
	return saved, err
}

const intentColumns = `id, transaction_id, cashier_id, lines, total_return_amount_cents, status, error, resolution_note, created_at, updated_at`

func scanIntent(row rowScanner) (*domain.ReturnIntent, error) {
	var (
		intent domain.ReturnIntent
		lines  []byte
	)
	err := row.Scan(&intent.ID, &intent.TransactionID, &intent.CashierID, &lines, &intent.TotalReturnAmountCents,
		&intent.Status, &intent.Error, &intent.ResolutionNote, &intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	if err := json.Unmarshal(lines, &intent.Lines); err != nil {
		return nil, fmt.Errorf("decode lines of return intent %s: %w", intent.ID, err)
	}
	intent.CreatedAt = intent.CreatedAt.UTC()
	intent.UpdatedAt = intent.UpdatedAt.UTC()
	return &intent, nil
}

func (s *Store) CreateReturnIntent(ctx context.Context, intent domain.ReturnIntent) (*domain.ReturnIntent, error) {
	if intent.TransactionID == "" {
		return nil, store.ErrValidation
	}
	if intent.ID == "" {
		intent.ID = xid.New("rint")
	}
	if intent.Status == "" {
		intent.Status = domain.IntentStatusPending
	}
	lines, err := json.Marshal(intent.Lines)
	if err != nil {
		return nil, err
	}
	return scanIntent(s.db.QueryRowContext(ctx, `
		INSERT INTO return_intents (`+intentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
		RETURNING `+intentColumns+`
	`, intent.ID, intent.TransactionID, intent.CashierID, lines, intent.TotalReturnAmountCents,
		intent.Status, intent.Error, intent.ResolutionNote))
}

func (s *Store) GetReturnIntent(ctx context.Context, id string) (*domain.ReturnIntent, error) {
	return scanIntent(s.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM return_intents WHERE id = $1`, id))
}

func (s *Store) UpdateReturnIntent(ctx context.Context, intent domain.ReturnIntent) (*domain.ReturnIntent, error) {
	return scanIntent(s.db.QueryRowContext(ctx, `
		UPDATE return_intents
		SET status = $2, error = $3, resolution_note = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+intentColumns+`
	`, intent.ID, intent.Status, intent.Error, intent.ResolutionNote))
}

func (s *Store) ListReturnIntents(ctx context.Context, status string, limit int) ([]domain.ReturnIntent, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+intentColumns+`
		FROM return_intents
		WHERE ($1::text = '' OR status = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	intents := make([]domain.ReturnIntent, 0, 16)
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, *intent)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return intents, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return translate(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, translate(err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Invalid("username %s already exists", username)
		}
		return translate(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, translate(err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE username = $1`, username, password)
	if err != nil {
		return translate(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// missingOrStale tells a lost version race apart from a row that never
// existed after a versioned update matched nothing.
func (s *Store) missingOrStale(ctx context.Context, table string, id string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return translate(err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	case isSerializationFailure(err):
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

package domain

import "time"

type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	Category   string `json:"category"`
	PriceCents int64  `json:"price_cents"`
	Active     bool   `json:"active"`
}

type ProductCreateRequest struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	Category   string `json:"category"`
	PriceCents int64  `json:"price_cents"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// LineItem is one product held inside a distribution lot.
type LineItem struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	SKU            string `json:"sku"`
	Category       string `json:"category"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineValueCents int64  `json:"line_value_cents"`
}

// DistributionLot is a batch of stock assigned to one cashier.
type DistributionLot struct {
	ID              string     `json:"id"`
	CashierID       string     `json:"cashier_id"`
	AdminID         string     `json:"admin_id,omitempty"`
	Status          string     `json:"status"`
	Source          string     `json:"source"`
	Items           []LineItem `json:"items"`
	TotalValueCents int64      `json:"total_value_cents"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Version         int64      `json:"version"`
}

type LotFilter struct {
	CashierID string
	Status    string
	Limit     int
}

type DistributionItemRequest struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents,omitempty"`
	ProductName    string `json:"product_name,omitempty"`
	SKU            string `json:"sku,omitempty"`
	Category       string `json:"category,omitempty"`
}

type DistributionCreateRequest struct {
	CashierID string                    `json:"cashier_id"`
	Notes     string                    `json:"notes"`
	Items     []DistributionItemRequest `json:"items"`
}

type DistributionListResponse struct {
	Lots []DistributionLot `json:"lots"`
}

type TransferRequest struct {
	SenderCashierID   string                    `json:"sender_cashier_id"`
	ReceiverCashierID string                    `json:"receiver_cashier_id"`
	Notes             string                    `json:"notes"`
	Items             []DistributionItemRequest `json:"items"`
}

type TransferResponse struct {
	SenderCashierID   string          `json:"sender_cashier_id"`
	ReceiverCashierID string          `json:"receiver_cashier_id"`
	ReceiverLot       DistributionLot `json:"receiver_lot"`
	Depletions        []LotDepletion  `json:"depletions"`
}

// LotDepletion records how much of one product was taken from one lot.
type LotDepletion struct {
	LotID          string `json:"lot_id"`
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	SKU            string `json:"sku"`
	Category       string `json:"category"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type StockLevel struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	SKU         string `json:"sku"`
	Quantity    int    `json:"quantity"`
}

type CashierStockResponse struct {
	CashierID string       `json:"cashier_id"`
	Stock     []StockLevel `json:"stock"`
}

type SaleItemRequest struct {
	ProductID       string  `json:"product_id"`
	Quantity        int     `json:"quantity"`
	DiscountPercent float64 `json:"discount_percent"`
}

type SaleRequest struct {
	CashierID            string            `json:"cashier_id"`
	OverallDiscountCents int64             `json:"overall_discount_cents"`
	CashReceivedCents    int64             `json:"cash_received_cents"`
	Items                []SaleItemRequest `json:"items"`
}

type TransactionItem struct {
	ProductID       string  `json:"product_id"`
	Name            string  `json:"name"`
	SKU             string  `json:"sku"`
	Category        string  `json:"category"`
	Quantity        int     `json:"quantity"`
	UnitPriceCents  int64   `json:"unit_price_cents"`
	DiscountPercent float64 `json:"discount_percent"`
	LineTotalCents  int64   `json:"line_total_cents"`
}

type ReturnedItem struct {
	ItemIndex         int       `json:"item_index"`
	ProductID         string    `json:"product_id"`
	Name              string    `json:"name"`
	SKU               string    `json:"sku"`
	Category          string    `json:"category"`
	UnitPriceCents    int64     `json:"unit_price_cents"`
	DiscountPercent   float64   `json:"discount_percent"`
	LineTotalCents    int64     `json:"line_total_cents"`
	Quantity          int       `json:"quantity"`
	ReturnAmountCents int64     `json:"return_amount_cents"`
	Reason            string    `json:"reason"`
	ReturnedAt        time.Time `json:"returned_at"`
}

type TransactionRecord struct {
	ID                   string            `json:"id"`
	CashierID            string            `json:"cashier_id"`
	Items                []TransactionItem `json:"items"`
	SubtotalCents        int64             `json:"subtotal_cents"`
	OverallDiscountCents int64             `json:"overall_discount_cents"`
	TotalAmountCents     int64             `json:"total_amount_cents"`
	CashReceivedCents    int64             `json:"cash_received_cents"`
	ChangeCents          int64             `json:"change_cents"`
	Status               string            `json:"status"`
	ReturnedItems        []ReturnedItem    `json:"returned_items"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	Version              int64             `json:"version"`
}

type TransactionFilter struct {
	CashierID string
	Status    string
	Limit     int
}

type TransactionListResponse struct {
	Transactions []TransactionRecord `json:"transactions"`
}

type ReturnLine struct {
	ItemIndex   int    `json:"item_index"`
	Quantity    int    `json:"quantity"`
	Description string `json:"description"`
}

type ReturnRequest struct {
	TransactionID string       `json:"transaction_id"`
	Items         []ReturnLine `json:"items"`
}

type ReturnResponse struct {
	Transaction       TransactionRecord `json:"transaction"`
	ReturnAmountCents int64             `json:"return_amount_cents"`
}

// ReturnIntent is written before a return mutates stock and cleared once the
// transaction is saved. Intents left in needs_reconciliation require an operator.
type ReturnIntent struct {
	ID                     string       `json:"id"`
	TransactionID          string       `json:"transaction_id"`
	CashierID              string       `json:"cashier_id"`
	Lines                  []ReturnLine `json:"lines"`
	TotalReturnAmountCents int64        `json:"total_return_amount_cents"`
	Status                 string       `json:"status"`
	Error                  string       `json:"error,omitempty"`
	ResolutionNote         string       `json:"resolution_note,omitempty"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

type ReturnIntentResolveRequest struct {
	Note string `json:"note"`
}

type ReturnIntentListResponse struct {
	Intents []ReturnIntent `json:"intents"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	LotStatusPending   = "pending"
	LotStatusDelivered = "delivered"
	LotStatusCancelled = "cancelled"
)

const (
	LotSourceAdmin         = "admin"
	LotSourceTransfer      = "transfer"
	LotSourceReinstatement = "reinstatement"
)

const (
	TxStatusCompleted = "completed"
	TxStatusRefunded  = "refunded"
	TxStatusCancelled = "cancelled"
)

const (
	IntentStatusPending             = "pending"
	IntentStatusCompleted           = "completed"
	IntentStatusNeedsReconciliation = "needs_reconciliation"
	IntentStatusResolved            = "resolved"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

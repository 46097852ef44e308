package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"poslot/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func newStubManager(t *testing.T, store UserStore) *AuthManager {
	t.Helper()
	manager, err := NewAuthManager(context.Background(), "test-secret", time.Hour, store, zap.NewNop())
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}
	return manager
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := newStubManager(t, store)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
	if store.updates == 0 {
		t.Fatalf("expected upgraded hash to be written back")
	}
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}

	manager := newStubManager(t, store)
	cashier, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{
		Username: "Kasir-Baru",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	if cashier.Username != "kasir-baru" {
		t.Fatalf("expected lower-cased username, got %s", cashier.Username)
	}

	found, ok := store.users["kasir-baru"]
	if !ok {
		t.Fatalf("expected cashier to be saved")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", found.Password)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "kasir-baru",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("login with hashed cashier failed: %v", err)
	}
	if resp.Role != domain.RoleCashier {
		t.Fatalf("expected cashier role, got %s", resp.Role)
	}

	if _, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "kasir-baru", Password: "pass1234"}); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}
}

func TestInactiveAccountCannotLogin(t *testing.T) {
	hash, err := hashPassword("secret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"cashier-x": {Username: "cashier-x", Password: hash, Role: domain.RoleCashier, Active: false},
	}}

	manager := newStubManager(t, store)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "cashier-x", Password: "secret-pass"}); err != errInactiveAccount {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"admin": {Username: "admin", Password: "admin123", Role: domain.RoleAdmin, Active: true},
	}}
	manager := newStubManager(t, store)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse own token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other, err := NewAuthManager(context.Background(), "another-secret", time.Hour, nil, nil)
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestNewAuthManagerRequiresSecret(t *testing.T) {
	if _, err := NewAuthManager(context.Background(), "  ", time.Hour, nil, nil); err == nil {
		t.Fatalf("expected empty secret to be rejected")
	}
}

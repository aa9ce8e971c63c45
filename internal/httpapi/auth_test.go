package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"invoicepos/internal/domain"
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

func plainAdminStore() *userStoreStub {
	return &userStoreStub{
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
}

func newManager(t *testing.T, store UserStore) *AuthManager {
	t.Helper()
	manager, err := NewAuthManager(testSecret, time.Hour, store, nil)
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}
	return manager
}

func TestNewAuthManagerRequiresSecret(t *testing.T) {
	if _, err := NewAuthManager("  ", time.Hour, nil, nil); err == nil {
		t.Fatalf("expected empty secret to be rejected")
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := plainAdminStore()
	manager := newManager(t, store)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
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
		t.Fatalf("expected the upgraded hash to be written back")
	}
}

func TestLoginRejectsInactiveAndWrongPassword(t *testing.T) {
	store := plainAdminStore()
	store.users["retired"] = domain.UserAccount{Username: "retired", Password: "retired123", Role: domain.RoleCashier}
	manager := newManager(t, store)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin124"}); err != ErrInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "retired", Password: "retired123"}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
}

func TestTokenCarriesIssuerAndUniqueID(t *testing.T) {
	manager := newManager(t, plainAdminStore())

	first, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ADMIN", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	second, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	ids := make(map[string]bool)
	for _, resp := range []domain.LoginResponse{first, second} {
		claims := &posCustomClaims{}
		if _, _, err := jwtlib.NewParser().ParseUnverified(resp.AccessToken, claims); err != nil {
			t.Fatalf("parse token: %v", err)
		}
		if claims.Issuer != tokenIssuer {
			t.Fatalf("expected issuer %q, got %q", tokenIssuer, claims.Issuer)
		}
		if claims.ID == "" {
			t.Fatalf("expected token id to be set")
		}
		ids[claims.ID] = true

		actor, err := manager.ParseToken(resp.AccessToken)
		if err != nil {
			t.Fatalf("parse token: %v", err)
		}
		if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
			t.Fatalf("unexpected actor %+v", actor)
		}
	}
	if len(ids) != 2 {
		t.Fatalf("expected distinct token ids")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	manager := newManager(t, plainAdminStore())
	manager.now = func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) }

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := manager.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	store := plainAdminStore()
	manager := newManager(t, store)

	cashier, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{
		Username: "Frontdesk",
		Password: "pass12345",
	})
	if err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	if cashier.Username != "frontdesk" {
		t.Fatalf("unexpected username %s", cashier.Username)
	}

	saved, ok := store.users["frontdesk"]
	if !ok {
		t.Fatalf("expected cashier to be saved")
	}
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", saved.Password)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "frontdesk", Password: "pass12345"}); err != nil {
		t.Fatalf("login with hashed cashier failed: %v", err)
	}
	if _, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "frontdesk", Password: "pass12345"}); err == nil {
		t.Fatalf("expected duplicate cashier to be rejected")
	}
	if _, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "abc", Password: "pass12345"}); err == nil {
		t.Fatalf("expected short username to be rejected")
	}

	cashiers := manager.ListCashiers(context.Background())
	if len(cashiers) != 1 || cashiers[0].Username != "frontdesk" {
		t.Fatalf("unexpected cashier list %+v", cashiers)
	}
}

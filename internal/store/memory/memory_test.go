package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

func TestNewSeededWarnsOnDefaultCredentials(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	t.Setenv("SEED_CASHIER_PASSWORD", "")
	core, logs := observer.New(zapcore.WarnLevel)

	s := NewSeeded(zap.New(core))

	assert.Equal(t, 1, logs.FilterMessageSnippet("default dev credentials").Len())
	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)
	for _, u := range users {
		assert.True(t, u.Active)
		assert.NotEqual(t, "admin123", u.Password)
	}
}

func TestNewSeededUsesConfiguredPasswords(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "s3cret-admin")
	t.Setenv("SEED_CASHIER_PASSWORD", "s3cret-cashier")
	core, logs := observer.New(zapcore.WarnLevel)

	s := NewSeeded(zap.New(core))

	assert.Zero(t, logs.Len())
	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	for _, u := range users {
		want := "s3cret-cashier"
		if u.Username == "admin" {
			want = "s3cret-admin"
		}
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(want)), u.Username)
	}
}

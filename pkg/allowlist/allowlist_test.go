package allowlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	cfg := Load(true, "Alice@Example.com, bob@example.com ,, carol@example.com")
	assert.True(t, cfg.Enabled)
	assert.Len(t, cfg.AllowedUsers, 3)
}

func TestIsAllowed(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		cfg := Load(false, "")
		assert.True(t, cfg.IsAllowed("anyone@example.com"))
		assert.True(t, cfg.IsAllowed(""))
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		cfg := Load(true, "alice@example.com")
		assert.True(t, cfg.IsAllowed("alice@example.com"))
		assert.True(t, cfg.IsAllowed("Alice@Example.COM"))
	})

	t.Run("NotListed", func(t *testing.T) {
		cfg := Load(true, "alice@example.com")
		assert.False(t, cfg.IsAllowed("mallory@example.com"))
	})

	t.Run("EmptyEmailDeniedWhenEnabled", func(t *testing.T) {
		cfg := Load(true, "alice@example.com")
		assert.False(t, cfg.IsAllowed(""))
	})

	t.Run("EmptyListDeniesEveryone", func(t *testing.T) {
		cfg := Load(true, "")
		assert.False(t, cfg.IsAllowed("alice@example.com"))
	})
}

func TestReason(t *testing.T) {
	cfg := Load(true, "alice@example.com")
	assert.NotEmpty(t, cfg.Reason(""))
	assert.NotEmpty(t, cfg.Reason("mallory@example.com"))
}

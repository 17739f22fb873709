package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetlease/backend/internal/models"
)

func TestLoadLedgerConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadLedgerConfig()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Priority.Rank(models.CategoryTaxes))
	assert.Equal(t, 8, cfg.Priority.Rank(models.CategoryMisc))
	assert.Equal(t, 9, cfg.Priority.Rank(models.CategoryDeposit))
	assert.Equal(t, 50, cfg.DefaultPageSize)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
}

func TestLoadLedgerConfig_CommaSeparatedPriority(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("ledger.category_priority", "lease, taxes")

	cfg, err := LoadLedgerConfig()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Priority.Rank(models.CategoryLease))
	assert.Equal(t, 2, cfg.Priority.Rank(models.CategoryTaxes))
	assert.Equal(t, 3, cfg.Priority.Rank(models.CategoryEZPass))
}

func TestLoadLedgerConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"unknown category", "ledger.category_priority", []string{"TAXES", "PARKING"}},
		{"duplicate category", "ledger.category_priority", []string{"TAXES", "TAXES"}},
		{"zero page size", "ledger.default_page_size", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			viper.Set(tt.key, tt.value)

			_, err := LoadLedgerConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadServerConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("server.port", "9090")

	cfg := LoadServerConfig()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

package database

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestGetConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("database.host", "db.internal")
	viper.Set("database.ssl_mode", "require")

	cfg := GetConfig()

	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, "fleet_ledger", cfg.Name)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t,
		"host=db.internal port=5432 user=postgres password=password dbname=fleet_ledger sslmode=require",
		cfg.DSN())
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fleetlease/backend/internal/models"
)

// LedgerConfig holds the tunables of the ledger engines and their HTTP surface.
type LedgerConfig struct {
	Priority        *models.PriorityTable
	DefaultPageSize int
	IdempotencyTTL  time.Duration
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
}

func setLedgerDefaults() {
	names := make([]string, len(models.DefaultPriority))
	for i, c := range models.DefaultPriority {
		names[i] = string(c)
	}
	viper.SetDefault("ledger.category_priority", names)
	viper.SetDefault("ledger.default_page_size", 50)
	viper.SetDefault("ledger.idempotency_ttl", 24*time.Hour)
}

// LoadLedgerConfig reads the ledger.* keys. The category priority may be given
// as a list or as a comma separated string (LEDGER_CATEGORY_PRIORITY=TAXES,LEASE).
func LoadLedgerConfig() (*LedgerConfig, error) {
	setLedgerDefaults()

	order, err := parsePriority(viper.GetStringSlice("ledger.category_priority"))
	if err != nil {
		return nil, err
	}
	table, err := models.NewPriorityTable(order)
	if err != nil {
		return nil, fmt.Errorf("ledger.category_priority: %w", err)
	}

	pageSize := viper.GetInt("ledger.default_page_size")
	if pageSize <= 0 {
		return nil, fmt.Errorf("ledger.default_page_size must be positive, got %d", pageSize)
	}

	return &LedgerConfig{
		Priority:        table,
		DefaultPageSize: pageSize,
		IdempotencyTTL:  viper.GetDuration("ledger.idempotency_ttl"),
	}, nil
}

func parsePriority(raw []string) ([]models.Category, error) {
	var order []models.Category
	for _, item := range raw {
		for _, name := range strings.Split(item, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			c, err := models.ParseCategory(name)
			if err != nil {
				return nil, fmt.Errorf("ledger.category_priority: %w", err)
			}
			order = append(order, c)
		}
	}
	return order, nil
}

func LoadServerConfig() *ServerConfig {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)
	viper.SetDefault("log.level", "info")

	return &ServerConfig{
		Port:            viper.GetString("server.port"),
		ReadTimeout:     viper.GetDuration("server.read_timeout"),
		WriteTimeout:    viper.GetDuration("server.write_timeout"),
		ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
		LogLevel:        viper.GetString("log.level"),
	}
}

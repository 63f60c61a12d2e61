package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"lend_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage defines the interface for data persistence
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a new SQLite storage instance
func NewStorage() (*Storage, error) {
	dbPath, err := getDBPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DB path: %w", err)
	}
	return openStorage(dbPath)
}

func openStorage(dbPath string) (*Storage, error) {
	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.TokenInfo{}, &domain.ActionRecord{}, &domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "LendGo", "data", "lendgo.db"), nil
}

// ======================================================================================
// Token Operations
// ======================================================================================

// UpsertToken creates or updates token metadata
func (s *Storage) UpsertToken(token *domain.TokenInfo) error {
	return s.db.Save(token).Error
}

// GetToken retrieves token metadata by symbol
func (s *Storage) GetToken(symbol string) (*domain.TokenInfo, error) {
	var token domain.TokenInfo
	err := s.db.First(&token, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &token, err
}

// GetAllTokens retrieves all tokens
func (s *Storage) GetAllTokens() ([]domain.TokenInfo, error) {
	var tokens []domain.TokenInfo
	err := s.db.Find(&tokens).Error
	return tokens, err
}

// ToggleFavorite toggles the favorite status of a token
func (s *Storage) ToggleFavorite(symbol string) (bool, error) {
	var token domain.TokenInfo
	if err := s.db.First(&token, "symbol = ?", symbol).Error; err != nil {
		return false, err
	}

	token.IsFavorite = !token.IsFavorite
	err := s.db.Save(&token).Error
	return token.IsFavorite, err
}

// ======================================================================================
// Action History Operations
// ======================================================================================

// SaveActionRecord persists one terminal action outcome
func (s *Storage) SaveActionRecord(rec *domain.ActionRecord) error {
	return s.db.Save(rec).Error
}

// ListActionRecords returns the most recent action records for an account,
// newest first
func (s *Storage) ListActionRecords(account string, limit int) ([]domain.ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []domain.ActionRecord
	err := s.db.
		Where("account = ?", account).
		Order("completed_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a user configuration
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&config).Error
}

// LoadConfigMap loads all user configurations as a map
func (s *Storage) LoadConfigMap() (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.Find(&configs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}

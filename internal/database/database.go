package database

import (
	"github.com/ksred/orderpad/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryDSN keeps receipts in a shared in-memory database that disappears
// with the process
const MemoryDSN = "file::memory:?cache=shared"

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	// in-memory sqlite is per connection unless shared; one connection keeps
	// every request on the same database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&types.Receipt{}); err != nil {
		return nil, err
	}

	return db, nil
}

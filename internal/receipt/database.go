package receipt

import (
	"context"
	"errors"

	"github.com/ksred/orderpad/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateReceipt(ctx context.Context, receipt *types.Receipt) error {
	return d.db.WithContext(ctx).Create(receipt).Error
}

// GetReceipt returns nil, nil when no receipt has the reference
func (d *Database) GetReceipt(ctx context.Context, referenceID string) (*types.Receipt, error) {
	var receipt types.Receipt
	if err := d.db.WithContext(ctx).Where("reference_id = ?", referenceID).First(&receipt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &receipt, nil
}

func (d *Database) ListSessionReceipts(ctx context.Context, sessionID string) ([]types.Receipt, error) {
	var receipts []types.Receipt
	err := d.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id asc").
		Find(&receipts).Error
	return receipts, err
}

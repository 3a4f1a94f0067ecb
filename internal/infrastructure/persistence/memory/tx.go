package memory

import (
	"context"

	"github.com/garyjia/printshop-workflow/internal/application/port"
)

// TxManager satisfies port.TransactionManager for the in-memory stores.
// Each store operation is atomic on its own; there is no rollback.
type TxManager struct{}

// NewTxManager creates a TxManager
func NewTxManager() *TxManager {
	return &TxManager{}
}

// WithTransaction runs fn directly
func (TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var _ port.TransactionManager = (*TxManager)(nil)

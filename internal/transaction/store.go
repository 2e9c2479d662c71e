package transaction

import "context"

// Store persists transactions.
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	Update(ctx context.Context, t *Transaction) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error)
}

package service

import (
	"context"

	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	"gorm.io/gorm"
)

// SnapshotResolver reads region and sales agent from the customer that owns
// a billing account. Order and subscription dimensions are supplied
// explicitly by their collaborators on the posting request.
type SnapshotResolver struct {
	db *gorm.DB
}

func NewSnapshotResolver(db *gorm.DB) ledgerdomain.SnapshotResolver {
	return &SnapshotResolver{db: db}
}

func (r *SnapshotResolver) ResolveSnapshot(ctx context.Context, q ledgerdomain.SnapshotQuery) (ledgerdomain.Snapshot, error) {
	var row struct {
		Region     *string
		SalesAgent *string
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT c.region, c.sales_agent
		 FROM billing_accounts a
		 JOIN customers c ON c.id = a.customer_id
		 WHERE a.id = ?`,
		q.AccountID,
	).Scan(&row).Error
	if err != nil {
		return ledgerdomain.Snapshot{}, err
	}
	return ledgerdomain.Snapshot{Region: row.Region, SalesAgent: row.SalesAgent}, nil
}

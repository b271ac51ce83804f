// Package document_repo provides PostgreSQL implementations for business
// document repositories (sales orders, invoices, payout batches).
package document_repo

import (
	"partnerpay/internal/domain/orders"
	"partnerpay/internal/infrastructure/storage/postgres"
)

const salesOrderTable = "sales_orders"

// SalesOrderRepo implements orders.Repository.
type SalesOrderRepo struct {
	*postgres.BaseRepo[*orders.SalesOrder]
}

var _ orders.Repository = (*SalesOrderRepo)(nil)

// NewSalesOrderRepo creates a new sales order repository.
func NewSalesOrderRepo(txm *postgres.TxManager) *SalesOrderRepo {
	return &SalesOrderRepo{
		BaseRepo: postgres.NewBaseRepo(
			txm,
			salesOrderTable,
			postgres.ExtractDBColumns[orders.SalesOrder](),
			[]string{"number", "customer_name"},
			func() *orders.SalesOrder { return &orders.SalesOrder{} },
		),
	}
}

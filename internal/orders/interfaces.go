package orders

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/settlement/pkg/db/models"
	"github.com/angelmondragon/settlement/pkg/enums"
	"github.com/angelmondragon/settlement/pkg/pagination"
)

// ErrStatusChanged reports that a guarded status update found the order in a
// different status than the one it was read with.
var ErrStatusChanged = errors.New("order status changed concurrently")

// Repository defines persistence operations for the orders tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateLines(ctx context.Context, lines []models.OrderLine) error
	FindOrder(ctx context.Context, orderID string) (*models.Order, error)
	FindOrderWithLines(ctx context.Context, orderID string) (*models.Order, error)
	CountOrders(ctx context.Context, orderID string) (int64, error)
	CountLines(ctx context.Context, orderID string) (int64, error)
	ListByCustomer(ctx context.Context, customerID string, limit int, after *pagination.Cursor) ([]models.Order, error)
	UpdateStatus(ctx context.Context, orderID string, from, to enums.OrderStatus, paymentReference *string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

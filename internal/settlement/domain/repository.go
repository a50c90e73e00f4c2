package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, batch *BatchPayment) error
	InsertItems(ctx context.Context, db *gorm.DB, items []BatchPaymentItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BatchPayment, error)
	ListItems(ctx context.Context, db *gorm.DB, batchIDs []snowflake.ID) ([]BatchPaymentItem, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*BatchPayment, error)
}

package storage

import (
	"context"

	"webtriage/pkg/model"
)

type Store interface {
	Insert(ctx context.Context, tx *model.Transaction) error
	QueryByIP(ctx context.Context, ip string, limit int) ([]model.Transaction, error)
	QueryByHost(ctx context.Context, host string, limit int) ([]model.Transaction, error)
	QueryByPID(ctx context.Context, pid int, limit int) ([]model.Transaction, error)
	Close() error
}

const DefaultLimit = 200

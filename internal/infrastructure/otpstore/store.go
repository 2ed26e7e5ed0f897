package otpstore

import (
	"context"

	"github.com/kustom-api/internal/domain"
)

// Store is implemented by every code backend. TryConsume is atomic per phone:
// a code can be consumed at most once.
type Store interface {
	Put(ctx context.Context, phone domain.PhoneNumber, code string) error
	TryConsume(ctx context.Context, phone domain.PhoneNumber, code string) (domain.ConsumeResult, error)
	RemainingSeconds(ctx context.Context, phone domain.PhoneNumber) (int, error)
	Delete(ctx context.Context, phone domain.PhoneNumber) error
	SweepExpired(ctx context.Context) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)

package db

import (
	"context"
	"time"
)

// WithPostingTimeout bounds ctx by d unless the caller already set a
// deadline.
func WithPostingTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

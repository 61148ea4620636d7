package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// ContextOrBackground returns Ctx, or context.Background when Ctx is unset.
func (c Context) ContextOrBackground() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/jkindrix/estimatebot/internal/errors"
)

// Default query timeouts.
const (
	// DefaultQueryTimeout bounds single-row reads.
	DefaultQueryTimeout = 5 * time.Second

	// DefaultListQueryTimeout bounds list queries.
	DefaultListQueryTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds INSERT, UPDATE and DELETE, including the
	// read-modify-write done by Patch.
	DefaultWriteTimeout = 10 * time.Second
)

// WithQueryTimeout returns a context with the default query timeout.
// A parent deadline that is already sooner is kept.
func WithQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, DefaultQueryTimeout)
}

// WithListQueryTimeout returns a context with the default list query timeout.
func WithListQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, DefaultListQueryTimeout)
}

// WithWriteTimeout returns a context with the default write timeout.
func WithWriteTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, DefaultWriteTimeout)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// translate maps pgx.ErrNoRows to a NOT_FOUND error for resource and wraps
// anything else as a database error for op.
func translate(err error, resource, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound(resource)
	}
	return apperrors.DatabaseError(op, err)
}

// Package users persists the records collected by the registration dialog.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/formbot/core/logger"
)

var (
	// ErrDuplicate is returned when the chat already has a record.
	ErrDuplicate = errors.New("users: already registered")
	// ErrInvalid is returned for records that violate the schema constraints.
	ErrInvalid = errors.New("users: invalid record")
)

// MaxAge is the largest accepted age.
const MaxAge = 150

// Record is one registered user.
type Record struct {
	ChatID int64  `db:"chat_id"`
	Name   string `db:"name"`
	Age    int    `db:"age"`
}

// Store is what the dialog and the broadcast job need from persistence.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Record, error)
}

// Repository is the sqlx implementation of Store.
type Repository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRepository wraps db. Every call runs under timeout; zero means no extra bound.
func NewRepository(db *sqlx.DB, timeout time.Duration) *Repository {
	return &Repository{db: db, timeout: timeout}
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// Validate checks rec against the users table constraints.
func Validate(rec Record) error {
	if strings.TrimSpace(rec.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalid)
	}
	if rec.Age < 0 || rec.Age > MaxAge {
		return fmt.Errorf("%w: age %d out of range", ErrInvalid, rec.Age)
	}
	return nil
}

// Insert stores rec. A second insert for the same chat returns ErrDuplicate.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	if err := Validate(rec); err != nil {
		return err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO users (chat_id, name, age) VALUES (?, ?, ?) ON CONFLICT (chat_id) DO NOTHING`),
		rec.ChatID, strings.TrimSpace(rec.Name), rec.Age,
	)
	if err == nil {
		var n int64
		if n, err = res.RowsAffected(); err == nil && n == 0 {
			err = ErrDuplicate
		}
	}
	if isUniqueViolation(err) {
		err = ErrDuplicate
	}

	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.Int64("chat_id", rec.ChatID),
		slog.Duration("duration", logger.Took(start)),
	}
	switch {
	case errors.Is(err, ErrDuplicate):
		logger.LogEvent(ctx, logger.SVCUsers, slog.LevelInfo, "users.insert", append(attrs, slog.String("reason", "duplicate"))...)
		return ErrDuplicate
	case err != nil:
		logger.LogEvent(ctx, logger.SVCUsers, slog.LevelError, "users.insert", append(attrs, slog.String("err", logger.ErrText(err)))...)
		return fmt.Errorf("users: insert: %w", err)
	}
	logger.LogEvent(ctx, logger.SVCUsers, slog.LevelInfo, "users.insert", attrs...)
	return nil
}

// List returns every record in registration order.
func (r *Repository) List(ctx context.Context) ([]Record, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	var out []Record
	err := r.db.SelectContext(ctx, &out, `SELECT chat_id, name, age FROM users ORDER BY created_at, chat_id`)
	logger.LogEvent(ctx, logger.SVCUsers, slog.LevelDebug, "users.list",
		slog.String("status", logger.Status(err)),
		slog.Int("count", len(out)),
		slog.Duration("duration", logger.Took(start)),
	)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

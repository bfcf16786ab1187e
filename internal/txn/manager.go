// Package txn runs business operations inside database transactions and
// defers work until those transactions commit.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	ErrNoActiveTransaction = errors.New("no active transaction")
	ErrTransactionFinished = errors.New("transaction already finished")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Runner executes post-commit tasks off the committing goroutine.
type Runner interface {
	Submit(task func()) error
}

type contextKey struct{}

type scope struct {
	tx *sql.Tx

	mu        sync.Mutex
	callbacks []func(context.Context)
	finished  bool
}

func (s *scope) register(callback func(context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return ErrTransactionFinished
	}
	s.callbacks = append(s.callbacks, callback)
	return nil
}

func (s *scope) finish() []func(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	callbacks := s.callbacks
	s.callbacks = nil
	return callbacks
}

func (s *scope) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.finished
}

type Manager struct {
	db     *sql.DB
	runner Runner
}

func NewManager(db *sql.DB, runner Runner) *Manager {
	return &Manager{db: db, runner: runner}
}

// WithinTx runs fn inside a transaction carried by the context passed to
// fn. The transaction commits when fn returns nil and rolls back otherwise.
// A call made while a transaction is already active joins it.
func (m *Manager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s := fromContext(ctx); s != nil && s.active() {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	s := &scope{tx: tx}
	txCtx := context.WithValue(ctx, contextKey{}, s)

	defer func() {
		if p := recover(); p != nil {
			s.finish()
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		discarded := s.finish()
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.WithError(rbErr).Error("Failed to roll back transaction")
		}
		if len(discarded) > 0 {
			log.WithField("callbacks", len(discarded)).Debug("Transaction rolled back, post-commit callbacks discarded")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		s.finish()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	m.dispatch(s.finish())
	return nil
}

// OnCommit registers callback to run once after the active transaction
// commits. It never runs on rollback.
func (m *Manager) OnCommit(ctx context.Context, callback func(ctx context.Context)) error {
	s := fromContext(ctx)
	if s == nil {
		return ErrNoActiveTransaction
	}
	return s.register(callback)
}

func (m *Manager) dispatch(callbacks []func(context.Context)) {
	for _, callback := range callbacks {
		if err := m.runner.Submit(func() { callback(context.Background()) }); err != nil {
			log.WithError(err).Error("Failed to dispatch post-commit callback")
		}
	}
}

func fromContext(ctx context.Context) *scope {
	s, _ := ctx.Value(contextKey{}).(*scope)
	return s
}

// Tx returns the transaction active in ctx, if any.
func Tx(ctx context.Context) (*sql.Tx, bool) {
	s := fromContext(ctx)
	if s == nil || !s.active() {
		return nil, false
	}
	return s.tx, true
}

// Executor returns the active transaction or db when none is active.
func Executor(ctx context.Context, db *sql.DB) DBTX {
	if tx, ok := Tx(ctx); ok {
		return tx
	}
	return db
}

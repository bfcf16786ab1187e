package txn

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

type inlineRunner struct {
	mu    sync.Mutex
	tasks int
}

func (r *inlineRunner) Submit(task func()) error {
	r.mu.Lock()
	r.tasks++
	r.mu.Unlock()
	task()
	return nil
}

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "txn.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE accounts (number TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	return db
}

func countRows(t *testing.T, db *sql.DB) int {
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&n))
	return n
}

func TestCallbackFiresAfterCommit(t *testing.T) {
	db := setupTestDB(t)
	runner := &inlineRunner{}
	m := NewManager(db, runner)

	var fired int
	err := m.WithinTx(context.Background(), func(ctx context.Context) error {
		_, err := Executor(ctx, db).ExecContext(ctx, `INSERT INTO accounts (number) VALUES (?)`, "001")
		require.NoError(t, err)

		require.NoError(t, m.OnCommit(ctx, func(ctx context.Context) { fired++ }))
		assert.Zero(t, fired, "callback must not run before commit")
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, runner.tasks)
	assert.Equal(t, 1, countRows(t, db))
}

func TestCallbackNeverFiresOnRollback(t *testing.T) {
	db := setupTestDB(t)
	runner := &inlineRunner{}
	m := NewManager(db, runner)

	boom := errors.New("boom")
	var fired bool
	err := m.WithinTx(context.Background(), func(ctx context.Context) error {
		_, err := Executor(ctx, db).ExecContext(ctx, `INSERT INTO accounts (number) VALUES (?)`, "001")
		require.NoError(t, err)
		require.NoError(t, m.OnCommit(ctx, func(ctx context.Context) { fired = true }))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, fired)
	assert.Zero(t, runner.tasks)
	assert.Zero(t, countRows(t, db))
}

func TestRollbackOnPanic(t *testing.T) {
	db := setupTestDB(t)
	m := NewManager(db, &inlineRunner{})

	var fired bool
	assert.Panics(t, func() {
		_ = m.WithinTx(context.Background(), func(ctx context.Context) error {
			_, err := Executor(ctx, db).ExecContext(ctx, `INSERT INTO accounts (number) VALUES (?)`, "001")
			require.NoError(t, err)
			require.NoError(t, m.OnCommit(ctx, func(ctx context.Context) { fired = true }))
			panic("boom")
		})
	})

	assert.False(t, fired)
	assert.Zero(t, countRows(t, db))
}

func TestOnCommitWithoutTransaction(t *testing.T) {
	m := NewManager(setupTestDB(t), &inlineRunner{})

	err := m.OnCommit(context.Background(), func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrNoActiveTransaction)
}

func TestOnCommitAfterTransactionFinished(t *testing.T) {
	m := NewManager(setupTestDB(t), &inlineRunner{})

	var leaked context.Context
	require.NoError(t, m.WithinTx(context.Background(), func(ctx context.Context) error {
		leaked = ctx
		return nil
	}))

	err := m.OnCommit(leaked, func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrTransactionFinished)

	_, ok := Tx(leaked)
	assert.False(t, ok)
}

func TestNestedCallJoinsOuterTransaction(t *testing.T) {
	db := setupTestDB(t)
	m := NewManager(db, &inlineRunner{})

	var fired bool
	err := m.WithinTx(context.Background(), func(ctx context.Context) error {
		outer, _ := Tx(ctx)
		require.NoError(t, m.WithinTx(ctx, func(ctx context.Context) error {
			inner, ok := Tx(ctx)
			require.True(t, ok)
			assert.Same(t, outer, inner)
			return m.OnCommit(ctx, func(ctx context.Context) { fired = true })
		}))
		return errors.New("outer fails")
	})

	assert.Error(t, err)
	assert.False(t, fired)
}

func TestExecutorOutsideTransaction(t *testing.T) {
	db := setupTestDB(t)
	assert.Same(t, db, Executor(context.Background(), db))
}

func TestCallbackContextIsDetached(t *testing.T) {
	db := setupTestDB(t)
	m := NewManager(db, &inlineRunner{})

	var inTx bool
	require.NoError(t, m.WithinTx(context.Background(), func(ctx context.Context) error {
		return m.OnCommit(ctx, func(ctx context.Context) {
			_, inTx = Tx(ctx)
		})
	}))
	assert.False(t, inTx)
}

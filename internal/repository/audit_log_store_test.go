package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"accounts-service/internal/domain"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestStoreFailureIsReturnedWithoutLogging(t *testing.T) {
	// No schema: the insert fails on a missing table.
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hook := logtest.NewGlobal()
	t.Cleanup(func() { log.StandardLogger().ReplaceHooks(make(log.LevelHooks)) })

	event := domain.NewMutationEvent(domain.MutationEventParams{
		Operation:     domain.OperationInsert,
		Entity:        &domain.Account{ID: uuid.New()},
		NewValues:     map[string]any{"numeroConta": "001"},
		ChangedFields: []string{},
		SourceService: "ms-contas",
	})

	stored, err := NewPostgresAuditLogRepository(db).Store(context.Background(), event)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert audit event")
	assert.Nil(t, stored)
	for _, entry := range hook.AllEntries() {
		assert.NotEqual(t, log.ErrorLevel, entry.Level, entry.Message)
	}
}

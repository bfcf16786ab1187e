package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"accounts-service/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestBuildAuditQueryWithoutFilters(t *testing.T) {
	query, args := buildAuditQuery(domain.AuditFilter{Limit: 20})

	assert.True(t, strings.HasSuffix(query, " ORDER BY criado_em DESC LIMIT $1 OFFSET $2"))
	assert.NotContains(t, query, " AND ")
	assert.Equal(t, []any{20, 0}, args)
}

func TestBuildAuditQueryNumbersPlaceholdersInOrder(t *testing.T) {
	op := domain.OperationUpdate
	kind := domain.KindAccount
	entityID := uuid.New()
	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	query, args := buildAuditQuery(domain.AuditFilter{
		Operation:  &op,
		EntityName: &kind,
		EntityID:   &entityID,
		From:       &from,
		Limit:      50,
		Offset:     100,
	})

	assert.Contains(t, query, "AND operacao = $1")
	assert.Contains(t, query, "AND entidade = $2")
	assert.Contains(t, query, "AND entidade_id = $3")
	assert.Contains(t, query, "AND criado_em >= $4")
	assert.Contains(t, query, "LIMIT $5 OFFSET $6")
	assert.NotContains(t, query, "usuario_id =")
	assert.Equal(t, []any{"UPDATE", "Conta", entityID, from, 50, 100}, args)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("23505")))
}

func TestDecodeValuesKeepsAmountScale(t *testing.T) {
	var values map[string]any
	err := decodeValues([]byte(`{"saldo": 250.00, "numeroConta": "001"}`), &values)

	assert.NoError(t, err)
	assert.Equal(t, json.Number("250.00"), values["saldo"])
	assert.Equal(t, "001", values["numeroConta"])
}

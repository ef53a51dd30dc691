package services

import (
	"context"
	"errors"
	"testing"

	"github.com/regenfab/regenops/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Commit() error {
	t.committed = true
	return t.commitErr
}

func (t *fakeTx) Rollback() error {
	t.rolledBack = true
	return nil
}

func (t *fakeTx) Context() context.Context { return context.Background() }

type fakeTxManager struct {
	tx       *fakeTx
	beginErr error
}

func (m *fakeTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return m.tx, nil
}

func TestWithTransaction_CommitsOnSuccess(t *testing.T) {
	tx := &fakeTx{}
	mgr := &fakeTxManager{tx: tx}

	err := WithTransaction(context.Background(), mgr, func(ctx context.Context, _ repositories.Transaction) error {
		return nil
	})

	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	tx := &fakeTx{}
	mgr := &fakeTxManager{tx: tx}
	boom := errors.New("boom")

	err := WithTransaction(context.Background(), mgr, func(ctx context.Context, _ repositories.Transaction) error {
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

func TestWithTransaction_RollsBackOnPanic(t *testing.T) {
	tx := &fakeTx{}
	mgr := &fakeTxManager{tx: tx}

	require.Panics(t, func() {
		_ = WithTransaction(context.Background(), mgr, func(ctx context.Context, _ repositories.Transaction) error {
			panic("boom")
		})
	})
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

func TestWithTransaction_BeginFailure(t *testing.T) {
	mgr := &fakeTxManager{beginErr: errors.New("pool exhausted")}

	err := WithTransaction(context.Background(), mgr, func(ctx context.Context, _ repositories.Transaction) error {
		t.Fatal("fn must not run when begin fails")
		return nil
	})

	require.Error(t, err)
}

func TestWithTransactionResult_ReturnsValue(t *testing.T) {
	tx := &fakeTx{}
	mgr := &fakeTxManager{tx: tx}

	got, err := WithTransactionResult(context.Background(), mgr, func(ctx context.Context, _ repositories.Transaction) (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.True(t, tx.committed)
}

func TestWithTransactionResult_RollsBackOnError(t *testing.T) {
	tx := &fakeTx{}
	mgr := &fakeTxManager{tx: tx}
	boom := errors.New("boom")

	_, err := WithTransactionResult(context.Background(), mgr, func(ctx context.Context, _ repositories.Transaction) (string, error) {
		return "", boom
	})

	require.ErrorIs(t, err, boom)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

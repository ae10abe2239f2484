package tx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("nil transaction leaves context untouched", func(t *testing.T) {
		got := WithTx(ctx, nil)
		_, ok := From(got)
		assert.False(t, ok)
	})

	t.Run("stored transaction is returned", func(t *testing.T) {
		stored := &sql.Tx{}
		got, ok := From(WithTx(ctx, stored))
		assert.True(t, ok)
		assert.Same(t, stored, got)
	})
}

func TestConn(t *testing.T) {
	db := &sql.DB{}

	t.Run("falls back to the pool", func(t *testing.T) {
		assert.Same(t, db, Conn(context.Background(), db))
	})

	t.Run("prefers the bound transaction", func(t *testing.T) {
		stored := &sql.Tx{}
		assert.Same(t, stored, Conn(WithTx(context.Background(), stored), db))
	})
}

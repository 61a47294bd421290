package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestConnFromContext_Nil(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil conn from empty context")
	}
}

func TestWithTx_ReusesOuterTransaction(t *testing.T) {
	// A context that already carries a transaction must never touch the pool.
	outer := context.WithValue(context.Background(), txKey, fakeTx{})
	called := false
	err := WithTx(outer, nil, func(ctx context.Context) error {
		called = true
		if TxFromContext(ctx) == nil {
			t.Error("expected transaction in nested context")
		}
		return errors.New("inner failure")
	})
	if !called {
		t.Fatal("expected fn to run")
	}
	if err == nil || err.Error() != "inner failure" {
		t.Errorf("expected inner error to propagate, got %v", err)
	}
}

type fakeTx struct{ pgx.Tx }

package lockbox

import (
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"
)

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func TestLedgerMove(t *testing.T) {
	db := newTestDB(t)
	ledger := BadgerLedger{}

	if err := db.Update(func(txn *badger.Txn) error {
		if err := ledger.Deposit(txn, "btc", "alice", decimal.NewFromInt(100)); err != nil {
			return err
		}

		return ledger.Move(txn, "btc", "alice", "bob", decimal.NewFromInt(40))
	}); err != nil {
		t.Fatal(err)
	}

	if err := db.View(func(txn *badger.Txn) error {
		alice, err := ledger.Balance(txn, "btc", "alice")
		if err != nil {
			return err
		}
		if !alice.Equal(decimal.NewFromInt(60)) {
			t.Fatalf("alice: got %s", alice)
		}

		bob, err := ledger.Balance(txn, "btc", "bob")
		if err != nil {
			return err
		}
		if !bob.Equal(decimal.NewFromInt(40)) {
			t.Fatalf("bob: got %s", bob)
		}

		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestLedgerMoveInsufficient(t *testing.T) {
	db := newTestDB(t)
	ledger := BadgerLedger{}

	err := db.Update(func(txn *badger.Txn) error {
		if err := ledger.Deposit(txn, "btc", "alice", decimal.NewFromInt(10)); err != nil {
			return err
		}

		return ledger.Move(txn, "btc", "alice", "bob", decimal.NewFromInt(40))
	})

	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}

	// the failed txn rolled back the deposit too; balances are isolated per asset and account
	if err := db.View(func(txn *badger.Txn) error {
		balance, err := ledger.Balance(txn, "btc", "bob")
		if err != nil {
			return err
		}
		if !balance.IsZero() {
			t.Fatalf("bob: got %s", balance)
		}

		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestLedgerMoveRejectsNonPositive(t *testing.T) {
	db := newTestDB(t)
	ledger := BadgerLedger{}

	err := db.Update(func(txn *badger.Txn) error {
		return ledger.Move(txn, "btc", "alice", "bob", decimal.NewFromInt(-1))
	})

	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
}

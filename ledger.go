package lockbox

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	g "github.com/pandodao/generic"
	"github.com/shopspring/decimal"
)

// Ledger moves a fungible asset between accounts. Moves run inside the
// caller's transaction so a transfer and the entity state it pays for
// commit atomically, or not at all.
type Ledger interface {
	Move(txn *badger.Txn, asset, from, to string, amount decimal.Decimal) error
	Balance(txn *badger.Txn, asset, account string) (decimal.Decimal, error)
	Deposit(txn *badger.Txn, asset, account string, amount decimal.Decimal) error
}

// BadgerLedger keeps one balance record per (asset, account) pair in the
// same store as the escrow entities.
type BadgerLedger struct{}

var _ Ledger = BadgerLedger{}

func (BadgerLedger) Balance(txn *badger.Txn, asset, account string) (decimal.Decimal, error) {
	pk := buildIndexKey(balancePrefix, asset, account)

	item, err := txn.Get(pk)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return decimal.Zero, nil
		}

		return decimal.Zero, err
	}

	var balance decimal.Decimal
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &balance)
	}); err != nil {
		return decimal.Zero, err
	}

	return balance, nil
}

func (l BadgerLedger) Move(txn *badger.Txn, asset, from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: move %s", ErrTransferFailed, amount)
	}

	balance, err := l.Balance(txn, asset, from)
	if err != nil {
		return err
	}

	if balance.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s, need %s", ErrTransferFailed, from, balance, asset, amount)
	}

	if err := saveBalance(txn, asset, from, balance.Sub(amount)); err != nil {
		return err
	}

	credit, err := l.Balance(txn, asset, to)
	if err != nil {
		return err
	}

	return saveBalance(txn, asset, to, credit.Add(amount))
}

func (l BadgerLedger) Deposit(txn *badger.Txn, asset, account string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: deposit %s", ErrTransferFailed, amount)
	}

	balance, err := l.Balance(txn, asset, account)
	if err != nil {
		return err
	}

	return saveBalance(txn, asset, account, balance.Add(amount))
}

func saveBalance(txn *badger.Txn, asset, account string, balance decimal.Decimal) error {
	pk := buildIndexKey(balancePrefix, asset, account)

	e := badger.NewEntry(pk, g.Must(json.Marshal(balance)))
	return txn.SetEntry(e)
}

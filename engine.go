package lockbox

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"
)

// defaultStalenessWindow is the maximum age of the latest oracle quote for
// an envelope creation to be trusted.
const defaultStalenessWindow = 60 * time.Second

type Config struct {
	// Admin may refund any open entity regardless of expiry.
	Admin string
	// StalenessWindow overrides the 60s default when positive.
	StalenessWindow time.Duration
}

func (c Config) stalenessWindow() time.Duration {
	if c.StalenessWindow > 0 {
		return c.StalenessWindow
	}

	return defaultStalenessWindow
}

// Engine owns the escrow lifecycle. Every operation runs as a single badger
// transaction: the asset move and the entity write commit together or not
// at all, and the persisted status field is the mutual exclusion between
// release and refund.
type Engine struct {
	db      *badger.DB
	ledger  Ledger
	oracle  Oracle
	clock   Clock
	auth    Authorizer
	emitter Emitter
	cfg     Config
}

func NewEngine(
	db *badger.DB,
	ledger Ledger,
	oracle Oracle,
	clock Clock,
	auth Authorizer,
	emitter Emitter,
	cfg Config,
) *Engine {
	return &Engine{
		db:      db,
		ledger:  ledger,
		oracle:  oracle,
		clock:   clock,
		auth:    auth,
		emitter: emitter,
		cfg:     cfg,
	}
}

// emit publishes after the commit succeeded. The audit record in badger is
// the source of truth, so a failed publish is logged and swallowed.
func (e *Engine) emit(ctx context.Context, evt *Event) {
	if err := e.emitter.Emit(ctx, evt); err != nil {
		slog.Error("emit event failed", slog.String("topic", evt.Topic), slog.Any("err", err))
	}
}

func (e *Engine) GetEnvelope(id uint64) (*Envelope, error) {
	txn := e.db.NewTransaction(false)
	defer txn.Discard()

	return findEnvelope(txn, id)
}

func (e *Engine) GetEscrow(id string) (*Escrow, error) {
	txn := e.db.NewTransaction(false)
	defer txn.Discard()

	return findEscrow(txn, strings.ToLower(id))
}

func (e *Engine) GetBalance(asset, account string) (decimal.Decimal, error) {
	txn := e.db.NewTransaction(false)
	defer txn.Discard()

	return e.ledger.Balance(txn, asset, account)
}

// DepositFunds credits an account on the internal ledger. Operator only.
func (e *Engine) DepositFunds(ctx context.Context, asset, account string, amount decimal.Decimal) error {
	if err := e.auth.Require(ctx, e.cfg.Admin); err != nil {
		return err
	}

	if !amount.IsPositive() || !fitsInt128(amount) {
		return ErrInvalidAmount
	}

	return e.db.Update(func(txn *badger.Txn) error {
		return e.ledger.Deposit(txn, asset, account, amount)
	})
}

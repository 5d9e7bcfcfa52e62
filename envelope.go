package lockbox

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"
)

type CreateEnvelopeRequest struct {
	Creator   string `json:"creator"`
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`
	// Amount is in base units: a positive integer within the signed
	// 128-bit range.
	Amount decimal.Decimal `json:"amount"`
	Denom  string          `json:"denom"`
	// ExpireIn zero creates an envelope with no refund path for the creator.
	ExpireIn time.Duration `json:"expire_in"`
}

func (r *CreateEnvelopeRequest) validate() error {
	if !r.Amount.IsPositive() || !fitsInt128(r.Amount) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, r.Amount)
	}

	return nil
}

// CreateEnvelope locks the amount with the custodial account and records a
// new open envelope. The latest quote for the denomination must be fresh;
// the payout price itself is resolved at open time, pinned back to the
// creation timestamp.
func (e *Engine) CreateEnvelope(ctx context.Context, req *CreateEnvelopeRequest) (*Envelope, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if err := e.auth.Require(ctx, req.Creator); err != nil {
		return nil, err
	}

	quote, err := e.oracle.Latest(ctx, req.Denom)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPriceStale, err)
	}

	now := e.clock.Now()
	if quote.Stale(now, e.cfg.stalenessWindow()) {
		return nil, fmt.Errorf("%w: quote from %s", ErrPriceStale, quote.Timestamp)
	}

	env := &Envelope{
		Creator:   req.Creator,
		Recipient: req.Recipient,
		Asset:     req.Asset,
		Amount:    req.Amount,
		Denom:     req.Denom,
		CreatedAt: now,
		Status:    StatusOpen,
	}

	if req.ExpireIn > 0 {
		env.ExpireAt = now.Add(req.ExpireIn)
	}

	var evt *Event
	if err := e.db.Update(func(txn *badger.Txn) error {
		id, err := nextEnvelopeID(txn)
		if err != nil {
			return err
		}
		env.ID = id

		if err := e.ledger.Move(txn, env.Asset, env.Creator, env.Custody(), env.Amount); err != nil {
			return err
		}

		if err := saveEnvelope(txn, env); err != nil {
			return err
		}

		evt = newEvent(TopicEnvelopeCreated, now, &EnvelopeCreatedEvent{
			ID:        env.ID,
			Creator:   env.Creator,
			Recipient: env.Recipient,
			Asset:     env.Asset,
			Amount:    env.Amount,
			Timestamp: now,
		})
		return appendEvent(txn, evt)
	}); err != nil {
		return nil, err
	}

	e.emit(ctx, evt)

	return env, nil
}

// OpenEnvelope releases the amount to the recipient and returns its value
// in the envelope denomination, converted with the quote pinned to the
// creation timestamp rather than the current one.
func (e *Engine) OpenEnvelope(ctx context.Context, claimant string, id uint64) (decimal.Decimal, error) {
	env, err := e.GetEnvelope(id)
	if err != nil {
		return decimal.Zero, err
	}

	now := e.clock.Now()
	if err := e.guardOpen(ctx, env, claimant, now); err != nil {
		return decimal.Zero, err
	}

	quote, err := e.oracle.At(ctx, env.Denom, env.CreatedAt)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceStale, err)
	}

	value, err := mulDiv(env.Amount, quote.Price, quote.Scale)
	if err != nil {
		return decimal.Zero, err
	}

	var evt *Event
	if err := e.db.Update(func(txn *badger.Txn) error {
		// reload under the write txn; the status field decides races
		env, err = findEnvelope(txn, id)
		if err != nil {
			return err
		}

		if err := e.guardOpen(ctx, env, claimant, now); err != nil {
			return err
		}

		if err := e.ledger.Move(txn, env.Asset, env.Custody(), claimant, env.Amount); err != nil {
			return err
		}

		env.Status = StatusReleased
		env.Value = value
		env.FinalizedAt = now

		if err := saveEnvelope(txn, env); err != nil {
			return err
		}

		evt = newEvent(TopicEnvelopeOpened, now, &EnvelopeOpenedEvent{
			ID:        env.ID,
			Value:     value,
			Denom:     env.Denom,
			Timestamp: now,
		})
		return appendEvent(txn, evt)
	}); err != nil {
		return decimal.Zero, err
	}

	e.emit(ctx, evt)

	return value, nil
}

func (e *Engine) guardOpen(ctx context.Context, env *Envelope, claimant string, now time.Time) error {
	if env.Status.Terminal() {
		return fmt.Errorf("%w: envelope %d is %s", ErrAlreadyFinalized, env.ID, env.Status)
	}

	if err := e.auth.Require(ctx, claimant); err != nil {
		return err
	}

	if claimant != env.Recipient {
		return fmt.Errorf("%w: envelope %d", ErrNotRecipient, env.ID)
	}

	// release is only valid strictly within the window
	if !env.ExpireAt.IsZero() && now.After(env.ExpireAt) {
		return fmt.Errorf("%w: envelope %d expired at %s", ErrExpired, env.ID, env.ExpireAt)
	}

	return nil
}

// RefundEnvelope returns the amount to the creator once the expiry has
// strictly elapsed. An envelope without expiry is not refundable this way.
func (e *Engine) RefundEnvelope(ctx context.Context, caller string, id uint64) error {
	return e.refundEnvelope(ctx, caller, id, false)
}

// AdminRefundEnvelope bypasses the expiry check but never the terminal
// state guard.
func (e *Engine) AdminRefundEnvelope(ctx context.Context, caller string, id uint64) error {
	return e.refundEnvelope(ctx, caller, id, true)
}

func (e *Engine) refundEnvelope(ctx context.Context, caller string, id uint64, override bool) error {
	now := e.clock.Now()

	var (
		env *Envelope
		evt *Event
	)
	if err := e.db.Update(func(txn *badger.Txn) error {
		var err error
		env, err = findEnvelope(txn, id)
		if err != nil {
			return err
		}

		if override {
			if caller != e.cfg.Admin {
				return fmt.Errorf("%w: %s is not the admin", ErrAuthorizationFailed, caller)
			}
			if err := e.auth.Require(ctx, e.cfg.Admin); err != nil {
				return err
			}
		} else {
			if caller != env.Creator {
				return fmt.Errorf("%w: %s is not the creator", ErrAuthorizationFailed, caller)
			}
			if err := e.auth.Require(ctx, env.Creator); err != nil {
				return err
			}
		}

		if env.Status.Terminal() {
			return fmt.Errorf("%w: envelope %d is %s", ErrAlreadyFinalized, env.ID, env.Status)
		}

		if !override {
			if env.ExpireAt.IsZero() || !now.After(env.ExpireAt) {
				return fmt.Errorf("%w: envelope %d", ErrNotYetExpired, env.ID)
			}
		}

		if err := e.ledger.Move(txn, env.Asset, env.Custody(), env.Creator, env.Amount); err != nil {
			return err
		}

		env.Status = StatusRefunded
		env.FinalizedAt = now

		if err := saveEnvelope(txn, env); err != nil {
			return err
		}

		evt = newEvent(TopicEnvelopeRefunded, now, &EnvelopeRefundedEvent{
			ID:        env.ID,
			Creator:   env.Creator,
			Amount:    env.Amount,
			Override:  override,
			Timestamp: now,
		})
		return appendEvent(txn, evt)
	}); err != nil {
		return err
	}

	e.emit(ctx, evt)

	return nil
}

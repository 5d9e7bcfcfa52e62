package lockbox

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"
)

type CreateEscrowRequest struct {
	// ID is a caller-supplied 32-byte identifier, hex encoded.
	ID        string `json:"id"`
	Depositor string `json:"depositor"`
	// RecipientHash commits to sha256(recipient_identity ‖ secret).
	RecipientHash string `json:"recipient_hash"`
	Asset         string `json:"asset"`
	// Amount is in base units: a positive integer within the signed
	// 128-bit range.
	Amount decimal.Decimal `json:"amount"`
	// ExpiryHeight zero leaves the deposit refundable only by the admin.
	ExpiryHeight uint64 `json:"expiry_height"`
}

func (r *CreateEscrowRequest) validate() error {
	if !r.Amount.IsPositive() || !fitsInt128(r.Amount) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, r.Amount)
	}

	return nil
}

// Commitment computes the digest stored at escrow creation: the secret
// bound to the identity allowed to redeem it.
func Commitment(recipient string, secret []byte) string {
	sum := sha256.Sum256(append([]byte(recipient), secret...))
	return hex.EncodeToString(sum[:])
}

func verifyCommitment(claimant string, secret []byte, recipientHash string) error {
	want, err := hex.DecodeString(recipientHash)
	if err != nil || len(want) != sha256.Size {
		return fmt.Errorf("%w: malformed commitment", ErrInvalidProof)
	}

	sum := sha256.Sum256(append([]byte(claimant), secret...))
	if subtle.ConstantTimeCompare(sum[:], want) != 1 {
		return ErrInvalidProof
	}

	return nil
}

// CreateEscrow locks the amount under a caller-supplied id. An existing id
// fails the whole call; no double custody.
func (e *Engine) CreateEscrow(ctx context.Context, req *CreateEscrowRequest) (*Escrow, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if err := e.auth.Require(ctx, req.Depositor); err != nil {
		return nil, err
	}

	now := e.clock.Now()

	// ids are hex and compared case-insensitively; stored lowercased so
	// case variants of the same 32 bytes hit the same record
	esc := &Escrow{
		ID:            strings.ToLower(req.ID),
		Depositor:     req.Depositor,
		RecipientHash: req.RecipientHash,
		Asset:         req.Asset,
		Amount:        req.Amount,
		CreatedAt:     now,
		ExpiryHeight:  req.ExpiryHeight,
		Status:        StatusOpen,
	}

	var evt *Event
	if err := e.db.Update(func(txn *badger.Txn) error {
		ok, err := hasEscrow(txn, esc.ID)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%w: escrow %s", ErrAlreadyExists, esc.ID)
		}

		if err := e.ledger.Move(txn, esc.Asset, esc.Depositor, esc.Custody(), esc.Amount); err != nil {
			return err
		}

		if err := saveEscrow(txn, esc); err != nil {
			return err
		}

		evt = newEvent(TopicEscrowCreated, now, &EscrowCreatedEvent{
			ID:        esc.ID,
			Depositor: esc.Depositor,
			Asset:     esc.Asset,
			Amount:    esc.Amount,
			Timestamp: now,
		})
		return appendEvent(txn, evt)
	}); err != nil {
		return nil, err
	}

	e.emit(ctx, evt)

	return esc, nil
}

// ClaimEscrow releases the amount to any claimant whose identity and
// presented secret recompute the stored commitment. There is no expiry
// gate on claims.
func (e *Engine) ClaimEscrow(ctx context.Context, claimant, id string, secret []byte) error {
	id = strings.ToLower(id)
	now := e.clock.Now()
	height := e.clock.Height()

	var evt *Event
	if err := e.db.Update(func(txn *badger.Txn) error {
		esc, err := findEscrow(txn, id)
		if err != nil {
			return err
		}

		if esc.Status.Terminal() {
			return fmt.Errorf("%w: escrow %s is %s", ErrAlreadyFinalized, esc.ID, esc.Status)
		}

		if err := e.auth.Require(ctx, claimant); err != nil {
			return err
		}

		if err := verifyCommitment(claimant, secret, esc.RecipientHash); err != nil {
			return err
		}

		if err := e.ledger.Move(txn, esc.Asset, esc.Custody(), claimant, esc.Amount); err != nil {
			return err
		}

		esc.Status = StatusReleased
		esc.FinalizedAt = now

		if err := saveEscrow(txn, esc); err != nil {
			return err
		}

		evt = newEvent(TopicEscrowClaimed, now, &EscrowClaimedEvent{
			ID:        esc.ID,
			Recipient: claimant,
			Height:    height,
			Timestamp: now,
		})
		return appendEvent(txn, evt)
	}); err != nil {
		return err
	}

	e.emit(ctx, evt)

	return nil
}

// RefundEscrow returns the amount to the depositor once the expiry height
// has strictly elapsed.
func (e *Engine) RefundEscrow(ctx context.Context, caller, id string) error {
	return e.refundEscrow(ctx, caller, id, false)
}

// AdminRefundEscrow bypasses the expiry check but never the terminal state
// guard.
func (e *Engine) AdminRefundEscrow(ctx context.Context, caller, id string) error {
	return e.refundEscrow(ctx, caller, id, true)
}

func (e *Engine) refundEscrow(ctx context.Context, caller, id string, override bool) error {
	id = strings.ToLower(id)
	now := e.clock.Now()
	height := e.clock.Height()

	var (
		esc *Escrow
		evt *Event
	)
	if err := e.db.Update(func(txn *badger.Txn) error {
		var err error
		esc, err = findEscrow(txn, id)
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
			if caller != esc.Depositor {
				return fmt.Errorf("%w: %s is not the depositor", ErrAuthorizationFailed, caller)
			}
			if err := e.auth.Require(ctx, esc.Depositor); err != nil {
				return err
			}
		}

		if esc.Status.Terminal() {
			return fmt.Errorf("%w: escrow %s is %s", ErrAlreadyFinalized, esc.ID, esc.Status)
		}

		if !override {
			if esc.ExpiryHeight == 0 || height <= esc.ExpiryHeight {
				return fmt.Errorf("%w: escrow %s", ErrNotYetExpired, esc.ID)
			}
		}

		if err := e.ledger.Move(txn, esc.Asset, esc.Custody(), esc.Depositor, esc.Amount); err != nil {
			return err
		}

		esc.Status = StatusRefunded
		esc.FinalizedAt = now

		if err := saveEscrow(txn, esc); err != nil {
			return err
		}

		evt = newEvent(TopicEscrowRefunded, now, &EscrowRefundedEvent{
			ID:        esc.ID,
			Depositor: esc.Depositor,
			Height:    height,
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

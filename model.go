package lockbox

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusReleased Status = "RELEASED"
	StatusRefunded Status = "REFUNDED"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Envelope is a recipient-gated deposit whose payout value is quoted in a
// reference denomination using the price prevailing at creation time.
type Envelope struct {
	ID        uint64          `json:"id"`
	Creator   string          `json:"creator"`
	Recipient string          `json:"recipient"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Denom     string          `json:"denom"`
	CreatedAt time.Time       `json:"created_at"`
	// ExpireAt zero means the creator opted out of reclaiming the funds;
	// only the administrator can return them.
	ExpireAt    time.Time       `json:"expire_at,omitempty"`
	Status      Status          `json:"status"`
	Value       decimal.Decimal `json:"value,omitempty"`
	FinalizedAt time.Time       `json:"finalized_at,omitempty"`
}

// Custody is the ledger account holding the envelope funds while open.
func (e *Envelope) Custody() string {
	return fmt.Sprintf("custody:envelope:%d", e.ID)
}

// Escrow is a hash-locked deposit releasable by whoever presents a secret
// whose commitment, bound to their own identity, matches RecipientHash.
type Escrow struct {
	ID            string          `json:"id"`
	Depositor     string          `json:"depositor"`
	RecipientHash string          `json:"recipient_hash"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
	// ExpiryHeight zero means there is no ordinary refund path.
	ExpiryHeight uint64    `json:"expiry_height,omitempty"`
	Status       Status    `json:"status"`
	FinalizedAt  time.Time `json:"finalized_at,omitempty"`
}

// Custody is the ledger account holding the escrow funds while open.
func (e *Escrow) Custody() string {
	return "custody:escrow:" + e.ID
}

// Event is one audit record appended per completed transition.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
	Payload   any       `json:"payload"`
}

const (
	TopicEnvelopeCreated  = "envelope_created"
	TopicEnvelopeOpened   = "envelope_opened"
	TopicEnvelopeRefunded = "envelope_refunded"
	TopicEscrowCreated    = "escrow_created"
	TopicEscrowClaimed    = "escrow_claimed"
	TopicEscrowRefunded   = "escrow_refunded"
)

type EnvelopeCreatedEvent struct {
	ID        uint64          `json:"id"`
	Creator   string          `json:"creator"`
	Recipient string          `json:"recipient"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"ts"`
}

type EnvelopeOpenedEvent struct {
	ID        uint64          `json:"id"`
	Value     decimal.Decimal `json:"value"`
	Denom     string          `json:"denom"`
	Timestamp time.Time       `json:"ts"`
}

type EnvelopeRefundedEvent struct {
	ID        uint64          `json:"id"`
	Creator   string          `json:"creator"`
	Amount    decimal.Decimal `json:"amount"`
	Override  bool            `json:"override,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

type EscrowCreatedEvent struct {
	ID        string          `json:"id"`
	Depositor string          `json:"depositor"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"ts"`
}

type EscrowClaimedEvent struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Height    uint64    `json:"height"`
	Timestamp time.Time `json:"ts"`
}

type EscrowRefundedEvent struct {
	ID        string    `json:"id"`
	Depositor string    `json:"depositor"`
	Height    uint64    `json:"height"`
	Override  bool      `json:"override,omitempty"`
	Timestamp time.Time `json:"ts"`
}

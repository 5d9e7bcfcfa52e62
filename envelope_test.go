package lockbox

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCreateEnvelope(t *testing.T) {
	clock := &fakeClock{now: testBase}
	oracle := &fakeOracle{latest: quoteAt(testBase, 100000000, 100000000)}
	e := newTestEngine(t, clock, oracle)

	fund(t, e, "btc", "alice", "1000000")

	env, err := e.CreateEnvelope(as("alice"), &CreateEnvelopeRequest{
		Creator:   "alice",
		Recipient: "bob",
		Asset:     "btc",
		Amount:    decimal.NewFromInt(250000),
		Denom:     "USD",
		ExpireIn:  time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	if env.ID != 1 {
		t.Fatalf("expected id 1, got %d", env.ID)
	}
	if env.Status != StatusOpen {
		t.Fatalf("expected open, got %s", env.Status)
	}
	if !env.ExpireAt.Equal(testBase.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", env.ExpireAt)
	}

	requireBalance(t, e, "btc", "alice", "750000")
	requireBalance(t, e, "btc", env.Custody(), "250000")

	// ids are monotone
	env2, err := e.CreateEnvelope(as("alice"), &CreateEnvelopeRequest{
		Creator:   "alice",
		Recipient: "bob",
		Asset:     "btc",
		Amount:    decimal.NewFromInt(1),
		Denom:     "USD",
	})
	if err != nil {
		t.Fatal(err)
	}
	if env2.ID != 2 {
		t.Fatalf("expected id 2, got %d", env2.ID)
	}
}

func TestCreateEnvelopeGuards(t *testing.T) {
	clock := &fakeClock{now: testBase}
	oracle := &fakeOracle{latest: quoteAt(testBase, 100000000, 100000000)}
	e := newTestEngine(t, clock, oracle)

	fund(t, e, "btc", "alice", "100")

	req := func() *CreateEnvelopeRequest {
		return &CreateEnvelopeRequest{
			Creator:   "alice",
			Recipient: "bob",
			Asset:     "btc",
			Amount:    decimal.NewFromInt(10),
			Denom:     "USD",
		}
	}

	t.Run("zero amount", func(t *testing.T) {
		r := req()
		r.Amount = decimal.Zero
		if _, err := e.CreateEnvelope(as("alice"), r); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected invalid amount, got %v", err)
		}
	})

	t.Run("negative amount", func(t *testing.T) {
		r := req()
		r.Amount = decimal.NewFromInt(-5)
		if _, err := e.CreateEnvelope(as("alice"), r); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected invalid amount, got %v", err)
		}
	})

	t.Run("caller is not the creator", func(t *testing.T) {
		if _, err := e.CreateEnvelope(as("mallory"), req()); !errors.Is(err, ErrAuthorizationFailed) {
			t.Fatalf("expected authorization failure, got %v", err)
		}
	})

	t.Run("insufficient funds", func(t *testing.T) {
		r := req()
		r.Amount = decimal.NewFromInt(1000)
		if _, err := e.CreateEnvelope(as("alice"), r); !errors.Is(err, ErrTransferFailed) {
			t.Fatalf("expected transfer failure, got %v", err)
		}

		// nothing was persisted
		if _, err := e.GetEnvelope(1); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		requireBalance(t, e, "btc", "alice", "100")
	})
}

func TestCreateEnvelopeStaleness(t *testing.T) {
	clock := &fakeClock{now: testBase}
	oracle := &fakeOracle{}
	e := newTestEngine(t, clock, oracle)

	fund(t, e, "btc", "alice", "100")

	req := &CreateEnvelopeRequest{
		Creator:   "alice",
		Recipient: "bob",
		Asset:     "btc",
		Amount:    decimal.NewFromInt(10),
		Denom:     "USD",
	}

	// one unit beyond the window
	oracle.latest = quoteAt(testBase.Add(-61*time.Second), 100000000, 100000000)
	if _, err := e.CreateEnvelope(as("alice"), req); !errors.Is(err, ErrPriceStale) {
		t.Fatalf("expected stale price, got %v", err)
	}

	// exactly at the window boundary the quote is still trusted
	oracle.latest = quoteAt(testBase.Add(-60*time.Second), 100000000, 100000000)
	if _, err := e.CreateEnvelope(as("alice"), req); err != nil {
		t.Fatal(err)
	}
}

func TestOpenEnvelope(t *testing.T) {
	for _, tc := range []struct {
		name   string
		amount int64
		price  int64
		scale  int64
		want   int64
	}{
		{name: "price 1.0", amount: 250000, price: 100000000, scale: 100000000, want: 250000},
		{name: "price 2.0", amount: 100, price: 200000000, scale: 100000000, want: 200},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clock := &fakeClock{now: testBase}
			oracle := &fakeOracle{latest: quoteAt(testBase, tc.price, tc.scale)}
			e := newTestEngine(t, clock, oracle)

			fund(t, e, "btc", "alice", "1000000")

			env, err := e.CreateEnvelope(as("alice"), &CreateEnvelopeRequest{
				Creator:   "alice",
				Recipient: "bob",
				Asset:     "btc",
				Amount:    decimal.NewFromInt(tc.amount),
				Denom:     "USD",
			})
			if err != nil {
				t.Fatal(err)
			}

			clock.now = clock.now.Add(time.Minute)

			value, err := e.OpenEnvelope(as("bob"), "bob", env.ID)
			if err != nil {
				t.Fatal(err)
			}

			if !value.Equal(decimal.NewFromInt(tc.want)) {
				t.Fatalf("expected value %d, got %s", tc.want, value)
			}

			requireBalance(t, e, "btc", "bob", decimal.NewFromInt(tc.amount).String())
			requireBalance(t, e, "btc", env.Custody(), "0")

			got, err := e.GetEnvelope(env.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != StatusReleased {
				t.Fatalf("expected released, got %s", got.Status)
			}
			if !got.Value.Equal(value) {
				t.Fatalf("stored value %s != %s", got.Value, value)
			}
		})
	}
}

func TestOpenEnvelopeUsesCreationPrice(t *testing.T) {
	clock := &fakeClock{now: testBase}
	oracle := &fakeOracle{
		latest: quoteAt(testBase, 100000000, 100000000),
		at:     map[int64]*Quote{},
	}
	e := newTestEngine(t, clock, oracle)

	fund(t, e, "btc", "alice", "1000")

	env, err := e.CreateEnvelope(as("alice"), &CreateEnvelopeRequest{
		Creator:   "alice",
		Recipient: "bob",
		Asset:     "btc",
		Amount:    decimal.NewFromInt(100),
		Denom:     "USD",
	})
	if err != nil {
		t.Fatal(err)
	}

	// the price doubles after creation; the payout must not follow it
	oracle.at[env.CreatedAt.Unix()] = quoteAt(env.CreatedAt, 100000000, 100000000)
	oracle.latest = quoteAt(testBase.Add(time.Hour), 200000000, 100000000)
	clock.now = testBase.Add(time.Hour)

	value, err := e.OpenEnvelope(as("bob"), "bob", env.ID)
	if err != nil {
		t.Fatal(err)
	}

	if !value.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected value pinned at creation price, got %s", value)
	}
}

func TestOpenEnvelopeGuards(t *testing.T) {
	clock := &fakeClock{now: testBase}
	oracle := &fakeOracle{latest: quoteAt(testBase, 100000000, 100000000)}
	e := newTestEngine(t, clock, oracle)

	fund(t, e, "btc", "alice", "1000")

	env, err := e.CreateEnvelope(as("alice"), &CreateEnvelopeRequest{
		Creator:   "alice",
		Recipient: "bob",
		Asset:     "btc",
		Amount:    decimal.NewFromInt(100),
		Denom:     "USD",
		ExpireIn:  time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.OpenEnvelope(as("bob"), "bob", 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := e.OpenEnvelope(as("carol"), "carol", env.ID); !errors.Is(err, ErrNotRecipient) {
		t.Fatalf("expected not recipient, got %v", err)
	}

	if _, err := e.OpenEnvelope(as("carol"), "bob", env.ID); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected authorization failure, got %v", err)
	}

	// strictly past the window
	clock.now = env.ExpireAt.Add(time.Second)
	if _, err := e.OpenEnvelope(as("bob"), "bob", env.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}

	// at the boundary release still works
	clock.now = env.ExpireAt
	if _, err := e.OpenEnvelope(as("bob"), "bob", env.ID); err != nil {
		t.Fatal(err)
	}

	// terminal: a second release must fail deterministically
	if _, err := e.OpenEnvelope(as("bob"), "bob", env.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected already finalized, got %v", err)
	}

	// and so must a refund
	clock.now = env.ExpireAt.Add(time.Hour)
	if err := e.RefundEnvelope(as("alice"), "alice", env.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected already finalized, got %v", err)
	}
}

func TestRefundEnvelope(t *testing.T) {
	clock := &fakeClock{now: testBase}
	oracle := &fakeOracle{latest: quoteAt(testBase, 100000000, 100000000)}
	e := newTestEngine(t, clock, oracle)

	fund(t, e, "btc", "alice", "1000")

	env, err := e.CreateEnvelope(as("alice"), &CreateEnvelopeRequest{
		Creator:   "alice",
		Recipient: "bob",
		Asset:     "btc",
		Amount:    decimal.NewFromInt(100),
		Denom:     "USD",
		ExpireIn:  time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.RefundEnvelope(as("alice"), "alice", env.ID); !errors.Is(err, ErrNotYetExpired) {
		t.Fatalf("expected not yet expired, got %v", err)
	}

	// now == expiry is still inside the window
	clock.now = env.ExpireAt
	if err := e.RefundEnvelope(as("alice"), "alice", env.ID); !errors.Is(err, ErrNotYetExpired) {
		t.Fatalf("expected not yet expired, got %v", err)
	}

	clock.now = env.ExpireAt.Add(time.Second)

	if err := e.RefundEnvelope(as("bob"), "bob", env.ID); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected authorization failure, got %v", err)
	}

	if err := e.RefundEnvelope(as("alice"), "alice", env.ID); err != nil {
		t.Fatal(err)
	}

	requireBalance(t, e, "btc", "alice", "1000")
	requireBalance(t, e, "btc", env.Custody(), "0")

	got, err := e.GetEnvelope(env.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusRefunded {
		t.Fatalf("expected refunded, got %s", got.Status)
	}

	if _, err := e.OpenEnvelope(as("bob"), "bob", env.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected already finalized, got %v", err)
	}
}

func TestRefundEnvelopeNoExpiry(t *testing.T) {
	clock := &fakeClock{now: testBase}
	oracle := &fakeOracle{latest: quoteAt(testBase, 100000000, 100000000)}
	e := newTestEngine(t, clock, oracle)

	fund(t, e, "btc", "alice", "1000")

	env, err := e.CreateEnvelope(as("alice"), &CreateEnvelopeRequest{
		Creator:   "alice",
		Recipient: "bob",
		Asset:     "btc",
		Amount:    decimal.NewFromInt(100),
		Denom:     "USD",
	})
	if err != nil {
		t.Fatal(err)
	}

	// no expiry set: the creator can never reclaim, no matter how late
	clock.now = testBase.Add(24 * 365 * time.Hour)
	if err := e.RefundEnvelope(as("alice"), "alice", env.ID); !errors.Is(err, ErrNotYetExpired) {
		t.Fatalf("expected not yet expired, got %v", err)
	}

	// the administrator override is the only way out
	if err := e.AdminRefundEnvelope(as("admin"), "admin", env.ID); err != nil {
		t.Fatal(err)
	}

	requireBalance(t, e, "btc", "alice", "1000")
}

func TestAdminRefundEnvelope(t *testing.T) {
	clock := &fakeClock{now: testBase}
	oracle := &fakeOracle{latest: quoteAt(testBase, 100000000, 100000000)}
	e := newTestEngine(t, clock, oracle)

	fund(t, e, "btc", "alice", "1000")

	env, err := e.CreateEnvelope(as("alice"), &CreateEnvelopeRequest{
		Creator:   "alice",
		Recipient: "bob",
		Asset:     "btc",
		Amount:    decimal.NewFromInt(100),
		Denom:     "USD",
		ExpireIn:  time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.AdminRefundEnvelope(as("alice"), "alice", env.ID); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected authorization failure, got %v", err)
	}

	// override ignores the expiry window
	if err := e.AdminRefundEnvelope(as("admin"), "admin", env.ID); err != nil {
		t.Fatal(err)
	}

	// but never the terminal state guard
	if err := e.AdminRefundEnvelope(as("admin"), "admin", env.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected already finalized, got %v", err)
	}
}

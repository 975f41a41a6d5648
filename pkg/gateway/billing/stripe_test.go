package billing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/dialwire/dialwire/pkg/core/call"
	"github.com/dialwire/dialwire/pkg/store"
)

func testMeter(st store.ProfileStore) (*Meter, *[]*stripe.BillingMeterEventParams) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMeter("sk_test", "outbound_call_cost", st, logger)
	var sent []*stripe.BillingMeterEventParams
	m.send = func(p *stripe.BillingMeterEventParams) error {
		sent = append(sent, p)
		return nil
	}
	return m, &sent
}

func TestRecordTerminalEmitsMeterEvent(t *testing.T) {
	st := store.NewMemory()
	st.PutProfile(store.Profile{UserID: "u1", StripeCustomerID: "cus_123"})
	m, sent := testMeter(st)

	m.RecordTerminal(context.Background(), &call.Session{
		LogID: "lg_1", UserID: "u1", Status: call.StatusCompleted,
		InitiatedAt: time.Now(), Price: "-0.013", PriceUnit: "USD",
	})
	if len(*sent) != 1 {
		t.Fatalf("events=%d, want 1", len(*sent))
	}
	payload := (*sent)[0].Payload
	if payload["stripe_customer_id"] != "cus_123" {
		t.Fatalf("customer=%q", payload["stripe_customer_id"])
	}
	if payload["value"] != "0.013" {
		t.Fatalf("value=%q, want sign-stripped cost", payload["value"])
	}
}

func TestRecordTerminalSkips(t *testing.T) {
	st := store.NewMemory()
	st.PutProfile(store.Profile{UserID: "u_nocus"})
	m, sent := testMeter(st)

	// No price reported yet.
	m.RecordTerminal(context.Background(), &call.Session{LogID: "lg_1", UserID: "u_nocus", Price: ""})
	// Priced but no billing linkage.
	m.RecordTerminal(context.Background(), &call.Session{LogID: "lg_2", UserID: "u_nocus", Price: "-0.5"})
	// Unknown user.
	m.RecordTerminal(context.Background(), &call.Session{LogID: "lg_3", UserID: "ghost", Price: "-0.5"})

	if len(*sent) != 0 {
		t.Fatalf("events=%d, want 0", len(*sent))
	}
}

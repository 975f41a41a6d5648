// Package billing reports finished call costs to Stripe as billing
// meter events.
package billing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/billing/meterevent"

	"github.com/dialwire/dialwire/pkg/core/call"
	"github.com/dialwire/dialwire/pkg/store"
)

// Meter emits one meter event per settled call that has a provider
// price and a billable customer.
type Meter struct {
	meterName string
	profiles  store.ProfileStore
	logger    *slog.Logger

	// send is swapped out in tests.
	send func(params *stripe.BillingMeterEventParams) error
}

func NewMeter(apiKey, meterName string, profiles store.ProfileStore, logger *slog.Logger) *Meter {
	stripe.Key = apiKey
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{
		meterName: meterName,
		profiles:  profiles,
		logger:    logger,
		send: func(params *stripe.BillingMeterEventParams) error {
			_, err := meterevent.New(params)
			return err
		},
	}
}

// RecordTerminal is wired as the orchestrator's terminal hook. Billing
// failures are logged, never surfaced into the call pipeline.
func (m *Meter) RecordTerminal(ctx context.Context, s *call.Session) {
	if s.Price == "" {
		return
	}
	profile, err := m.profiles.Profile(ctx, s.UserID)
	if err != nil || profile.StripeCustomerID == "" {
		return
	}

	// Twilio reports charges as negative amounts; the meter wants the
	// absolute cost.
	amount := strings.TrimPrefix(s.Price, "-")

	err = m.send(&stripe.BillingMeterEventParams{
		EventName: stripe.String(m.meterName),
		Payload: map[string]string{
			"stripe_customer_id": profile.StripeCustomerID,
			"value":              amount,
			"call_log_id":        s.LogID,
			"currency":           s.PriceUnit,
		},
	})
	if err != nil {
		m.logger.Warn("billing meter event failed",
			"log_id", s.LogID, "user_id", s.UserID, "error", err)
		return
	}
	m.logger.Info("call cost metered",
		"log_id", s.LogID, "amount", amount, "currency", s.PriceUnit)
}

// Package payment talks to the payment gateway that captures booking charges.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"parking-slots-backend/config"
	"parking-slots-backend/internal/apperr"
)

// StatusSucceeded is the only intent status that allows a reservation.
const StatusSucceeded = string(stripe.PaymentIntentStatusSucceeded)

// Intent is the gateway's view of one payment.
type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"clientSecret,omitempty"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Succeeded reports whether the payment was captured.
func (i *Intent) Succeeded() bool {
	return i.Status == StatusSucceeded
}

// Gateway creates and inspects payment intents.
type Gateway interface {
	CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
}

// ToMinorUnits converts an amount such as 12.34 to 1234.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// New builds the gateway named by cfg.Driver. The stripe driver needs a secret
// key; there is no silent fallback to the in-memory gateway.
func New(cfg config.PaymentConfig) (Gateway, error) {
	switch cfg.Driver {
	case "", "stripe":
		if cfg.SecretKey == "" {
			return nil, errors.New("payment.secret_key (or STRIPE_SECRET_KEY) is required for the stripe driver; set payment.driver to memory for local runs")
		}
		return NewStripeGateway(cfg.SecretKey), nil
	case "memory":
		log.Println("Warning: payment.driver is memory; every payment intent succeeds immediately")
		return NewMemoryGateway(true), nil
	default:
		return nil, fmt.Errorf("unknown payment driver %q", cfg.Driver)
	}
}

// StripeGateway is the Stripe-backed Gateway.
type StripeGateway struct {
	client paymentintent.Client
}

// NewStripeGateway creates a gateway authenticated with secretKey.
func NewStripeGateway(secretKey string) *StripeGateway {
	return NewStripeGatewayWithBackend(secretKey, stripe.GetBackend(stripe.APIBackend))
}

// NewStripeGatewayWithBackend lets callers point the gateway at another API endpoint.
func NewStripeGatewayWithBackend(secretKey string, backend stripe.Backend) *StripeGateway {
	return &StripeGateway{client: paymentintent.Client{B: backend, Key: secretKey}}
}

// CreateIntent starts a payment for amount minor units.
func (g *StripeGateway) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.client.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create intent: %v", apperr.ErrUpstreamPayment, err)
	}
	return fromStripe(pi), nil
}

// RetrieveIntent fetches the current state of a payment.
func (g *StripeGateway) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.client.Get(id, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == 404 {
			return nil, fmt.Errorf("%w: payment intent %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: retrieve intent %s: %v", apperr.ErrUpstreamPayment, id, err)
	}
	return fromStripe(pi), nil
}

func fromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}

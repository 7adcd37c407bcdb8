package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"parking-slots-backend/internal/apperr"
)

// MemoryGateway keeps intents in process. It backs local runs without gateway
// credentials and the tests of the reservation flow.
type MemoryGateway struct {
	mu          sync.Mutex
	intents     map[string]*Intent
	autoSucceed bool
	// Err, when set, is returned by every call.
	Err error
}

// NewMemoryGateway creates an empty gateway. With autoSucceed every new intent
// is immediately captured.
func NewMemoryGateway(autoSucceed bool) *MemoryGateway {
	return &MemoryGateway{intents: make(map[string]*Intent), autoSucceed: autoSucceed}
}

func (g *MemoryGateway) CreateIntent(_ context.Context, amount int64, currency string, metadata map[string]string) (*Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUpstreamPayment, g.Err)
	}

	id := "pi_" + uuid.NewString()
	status := "requires_payment_method"
	if g.autoSucceed {
		status = StatusSucceeded
	}
	in := &Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       status,
		Amount:       amount,
		Currency:     currency,
		Metadata:     metadata,
	}
	g.intents[id] = in
	cp := *in
	return &cp, nil
}

func (g *MemoryGateway) RetrieveIntent(_ context.Context, id string) (*Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUpstreamPayment, g.Err)
	}
	in, ok := g.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment intent %s", apperr.ErrNotFound, id)
	}
	cp := *in
	return &cp, nil
}

// Capture marks an intent as paid, as the customer's browser would after confirming a card.
func (g *MemoryGateway) Capture(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if in, ok := g.intents[id]; ok {
		in.Status = StatusSucceeded
	}
}

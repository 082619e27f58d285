package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/zllovesuki/stylo/spec"

	"github.com/lithammer/shortuuid/v3"
)

// Tokens with special behavior in MockGateway, in the spirit of gateway test cards
const (
	MockTokenDecline = "tok_decline"
	MockTokenTimeout = "tok_timeout"
)

// MockGateway is an in-memory Gateway. Failures can be queued with FailNext, and
// cards created from MockTokenDecline or MockTokenTimeout always fail to charge.
type MockGateway struct {
	mu        sync.Mutex
	customers map[string]string // email or business id -> customer id
	cards     map[string]string // card id -> token
	failures  []error
	calls     map[string]int
	charges   []ChargeParams
}

var _ Gateway = &MockGateway{}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		customers: make(map[string]string),
		cards:     make(map[string]string),
		calls:     make(map[string]int),
	}
}

// FailNext queues errors returned by the next Charge calls, in order
func (m *MockGateway) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Calls returns how many times a method was invoked
func (m *MockGateway) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Charges returns a copy of every charge request received
func (m *MockGateway) Charges() []ChargeParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChargeParams(nil), m.charges...)
}

func (m *MockGateway) CreateOrGetCustomer(ctx context.Context, params CustomerParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["CreateOrGetCustomer"]++

	key := params.Email
	if key == "" {
		key = params.BusinessID
	}
	if id, ok := m.customers[key]; ok {
		return id, nil
	}
	id := "cus_" + shortuuid.New()
	m.customers[key] = id
	return id, nil
}

func (m *MockGateway) CreateCard(ctx context.Context, customerID, token string) (*Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["CreateCard"]++

	if token == "" {
		return nil, &Error{Message: "Invalid card token", Code: "invalid_token", Raw: spec.Parameters{}}
	}
	id := "card_" + shortuuid.New()
	m.cards[id] = token
	return &Card{
		ID:              id,
		Brand:           "visa",
		LastFour:        "4242",
		HolderName:      "Test Holder",
		ExpirationMonth: 12,
		ExpirationYear:  2099,
	}, nil
}

func (m *MockGateway) Charge(ctx context.Context, params ChargeParams) (*Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Charge"]++
	m.charges = append(m.charges, params)

	if err := ctx.Err(); err != nil {
		return nil, AsError(err)
	}
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return nil, AsError(err)
	}
	switch m.cards[params.CardID] {
	case MockTokenDecline:
		return nil, &Error{
			Message: "Your card was declined",
			Code:    "card_declined",
			Raw:     spec.Parameters{"decline_code": "generic_decline"},
		}
	case MockTokenTimeout:
		return nil, AsError(context.DeadlineExceeded)
	}
	if params.AmountCents <= 0 {
		return nil, &Error{Message: "Invalid amount", Code: "invalid_amount", Raw: spec.Parameters{}}
	}
	id := fmt.Sprintf("ch_%s", shortuuid.New())
	return &Charge{
		ID: id,
		Raw: spec.Parameters{
			"id":       id,
			"amount":   strconv.FormatInt(params.AmountCents, 10),
			"currency": params.Currency,
			"outcome":  "paid",
		},
	}, nil
}

func (m *MockGateway) DeleteCard(ctx context.Context, cardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["DeleteCard"]++

	if _, ok := m.cards[cardID]; !ok {
		return &Error{Message: "No such card", Code: "resource_missing", Raw: spec.Parameters{}}
	}
	delete(m.cards, cardID)
	return nil
}

package gateway

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/zllovesuki/stylo/spec"

	extErrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	domain := &Error{Message: "declined", Code: "card_declined"}
	got := AsError(extErrors.Wrap(domain, "wrapped"))
	assert.Same(t, domain, got)
	assert.NotNil(t, got.Raw)

	assert.Equal(t, CodeTimeout, AsError(context.DeadlineExceeded).Code)
	assert.Equal(t, CodeTimeout, AsError(&net.OpError{Op: "read", Err: timeoutErr{}}).Code)
	assert.Equal(t, CodeConnectionError, AsError(&net.OpError{Op: "dial", Err: errors.New("refused")}).Code)

	unknown := AsError(errors.New("boom"))
	assert.Equal(t, CodeUnknown, unknown.Code)
	assert.Equal(t, "boom", unknown.Raw["error"])
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, GenericMessage, (&Error{}).UserMessage())
	assert.Equal(t, "Insufficient funds", (&Error{Message: "Insufficient funds"}).UserMessage())
}

func TestFromStripeError(t *testing.T) {
	err := &stripe.Error{
		Code:           stripe.ErrorCodeCardDeclined,
		DeclineCode:    "insufficient_funds",
		Msg:            "Your card has insufficient funds.",
		Type:           stripe.ErrorTypeCard,
		HTTPStatusCode: 402,
		RequestID:      "req_123",
	}
	got := FromStripeError(err)
	assert.Equal(t, "card_declined", got.Code)
	assert.Equal(t, "Your card has insufficient funds.", got.Message)
	assert.Equal(t, "insufficient_funds", got.Raw["decline_code"])
	assert.Equal(t, "402", got.Raw["http_status"])

	typed := FromStripeError(&stripe.Error{Type: stripe.ErrorTypeAPI, Msg: "oops"})
	assert.Equal(t, "api_error", typed.Code)

	transport := FromStripeError(context.DeadlineExceeded)
	assert.Equal(t, CodeTimeout, transport.Code)
}

func TestNewSelectsProvider(t *testing.T) {
	gw, err := New(Options{Provider: ProviderMock, Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.IsType(t, &MockGateway{}, gw)

	gw, err = New(Options{Provider: ProviderStripe, StripeKey: "sk_test_123", Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.IsType(t, &StripeGateway{}, gw)

	_, err = New(Options{Provider: "paypal", Logger: zap.NewNop()})
	assert.Error(t, err)

	_, err = New(Options{Provider: ProviderMock})
	assert.Error(t, err)
}

func TestMockGateway(t *testing.T) {
	ctx := context.Background()
	m := NewMockGateway()

	cus, err := m.CreateOrGetCustomer(ctx, CustomerParams{Email: "owner@example.com"})
	require.NoError(t, err)
	again, err := m.CreateOrGetCustomer(ctx, CustomerParams{Email: "owner@example.com"})
	require.NoError(t, err)
	assert.Equal(t, cus, again)

	card, err := m.CreateCard(ctx, cus, "tok_visa")
	require.NoError(t, err)
	assert.Equal(t, "4242", card.LastFour)

	charge, err := m.Charge(ctx, ChargeParams{CustomerID: cus, CardID: card.ID, AmountCents: 3448, Currency: "PEN", Metadata: spec.Parameters{"invoice_id": "i1"}})
	require.NoError(t, err)
	assert.NotEmpty(t, charge.ID)
	assert.Equal(t, "3448", charge.Raw["amount"])

	m.FailNext(&Error{Message: "declined", Code: "card_declined"})
	_, err = m.Charge(ctx, ChargeParams{CardID: card.ID, AmountCents: 100})
	var gErr *Error
	require.True(t, errors.As(err, &gErr))
	assert.Equal(t, "card_declined", gErr.Code)

	declining, err := m.CreateCard(ctx, cus, MockTokenDecline)
	require.NoError(t, err)
	_, err = m.Charge(ctx, ChargeParams{CardID: declining.ID, AmountCents: 100})
	require.True(t, errors.As(err, &gErr))
	assert.Equal(t, "card_declined", gErr.Code)

	slow, err := m.CreateCard(ctx, cus, MockTokenTimeout)
	require.NoError(t, err)
	_, err = m.Charge(ctx, ChargeParams{CardID: slow.ID, AmountCents: 100})
	require.True(t, errors.As(err, &gErr))
	assert.Equal(t, CodeTimeout, gErr.Code)

	assert.Equal(t, 4, m.Calls("Charge"))
	assert.Len(t, m.Charges(), 4)

	require.NoError(t, m.DeleteCard(ctx, card.ID))
	assert.Error(t, m.DeleteCard(ctx, card.ID))
}

package customer

import (
	"context"
	"testing"

	"github.com/zllovesuki/stylo/db/dbtest"
	"github.com/zllovesuki/stylo/gateway"
	"github.com/zllovesuki/stylo/subscription"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEnsureCustomerOncePerBusiness(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewMockGateway()
	m, err := NewManager(zap.NewNop(), dbtest.New(t), gw)
	require.NoError(t, err)

	missing, err := m.GetByBusiness(ctx, "biz-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	profile := subscription.Profile{ID: "biz-1", Name: "Salon Uno", Email: "uno@example.com"}
	first, err := m.EnsureCustomer(ctx, profile)
	require.NoError(t, err)
	assert.NotEmpty(t, first.GatewayCustomerID)

	second, err := m.EnsureCustomer(ctx, profile)
	require.NoError(t, err)
	assert.Equal(t, first.GatewayCustomerID, second.GatewayCustomerID)
	assert.Equal(t, 1, gw.Calls("CreateOrGetCustomer"))

	byEmail, err := m.GetByEmail(ctx, "uno@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, "biz-1", byEmail.BusinessID)
}

func TestNewManagerRejectsNilGateway(t *testing.T) {
	_, err := NewManager(zap.NewNop(), dbtest.New(t), nil)
	assert.Error(t, err)
}

package billing

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zllovesuki/stylo/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	envelope := struct {
		Result interface{} `json:"result"`
	}{
		Result: v,
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
}

func TestRouterStaffLifecycle(t *testing.T) {
	h := newHarness(t, "100.00")
	router := h.Router()

	rec := call(t, router, http.MethodPost, "/businesses/b1/staff", RegisterStaffRequest{
		StaffID:      "s1",
		StaffName:    "Ana",
		BusinessName: "Salon Uno",
		Email:        "owner@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(t, router, http.MethodPost, "/businesses/b1/staff", RegisterStaffRequest{StaffID: "s2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, router, http.MethodPost, "/businesses/b1/staff/s1/activate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = call(t, router, http.MethodPost, "/businesses/b1/payment-methods", AddPaymentMethodRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, router, http.MethodPost, "/businesses/b1/payment-methods", AddPaymentMethodRequest{Token: "tok_visa"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var method struct {
		ID        string `json:"id"`
		IsDefault bool   `json:"isDefault"`
	}
	decodeResult(t, rec, &method)
	assert.NotEmpty(t, method.ID)

	h.at(noon(2024, time.February, 10))
	rec = call(t, router, http.MethodPost, "/businesses/b1/staff/s1/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, router, http.MethodPost, "/businesses/b1/staff/nobody/deactivate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, router, http.MethodGet, "/businesses/b1/payment-methods", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var methods []map[string]interface{}
	decodeResult(t, rec, &methods)
	assert.Len(t, methods, 1)

	rec = call(t, router, http.MethodGet, "/businesses/b1/bookable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bookable BookableResponse
	decodeResult(t, rec, &bookable)
	assert.True(t, bookable.CanReceiveBookings)

	rec = call(t, router, http.MethodGet, "/businesses/b1/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary struct {
		BillableStaff int `json:"billableStaff"`
	}
	decodeResult(t, rec, &summary)
	assert.Equal(t, 1, summary.BillableStaff)

	rec = call(t, router, http.MethodDelete, "/businesses/b1/payment-methods/"+method.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = call(t, router, http.MethodDelete, "/businesses/b1/payment-methods/"+method.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterInvoicePayment(t *testing.T) {
	h := newHarness(t, "100.00")
	h.onboard(t, gateway.MockTokenDecline, noon(2024, time.February, 20))
	inv := h.invoiceFebruary(t)
	router := h.Router()

	rec := call(t, router, http.MethodGet, "/businesses/b1/invoices?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var invoices []map[string]interface{}
	decodeResult(t, rec, &invoices)
	assert.Len(t, invoices, 1)

	rec = call(t, router, http.MethodGet, "/businesses/b1/invoices?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, router, http.MethodGet, "/invoices/"+inv.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, router, http.MethodPost, "/invoices/"+inv.ID+"/pay", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var outcome struct {
		Success bool `json:"success"`
	}
	decodeResult(t, rec, &outcome)
	assert.False(t, outcome.Success)

	rec = call(t, router, http.MethodPost, "/businesses/b1/courtesy", CourtesyRequest{Reason: "Partner salon"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, router, http.MethodPost, "/invoices/"+inv.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeResult(t, rec, &outcome)
	assert.True(t, outcome.Success)

	rec = call(t, router, http.MethodPost, "/invoices/"+inv.ID+"/pay", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, router, http.MethodPost, "/invoices/missing/pay", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, router, http.MethodGet, "/businesses/b1/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending struct {
		PendingAmount string `json:"pendingAmount"`
	}
	decodeResult(t, rec, &pending)
	assert.Equal(t, "0", pending.PendingAmount)

	days := -1
	rec = call(t, router, http.MethodPost, "/businesses/b1/courtesy", CourtesyRequest{Days: &days, Reason: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, router, http.MethodDelete, "/businesses/b1/courtesy", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterPricing(t *testing.T) {
	router := newHarness(t, "100.00").Router()

	rec := call(t, router, http.MethodGet, "/pricing", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pricing struct {
		PricePerStaffMonth string `json:"pricePerStaffMonth"`
		TrialDays          int    `json:"trialDays"`
	}
	decodeResult(t, rec, &pricing)
	assert.Equal(t, "100", pricing.PricePerStaffMonth)
	assert.Equal(t, 14, pricing.TrialDays)

	rec = call(t, router, http.MethodGet, "/businesses/b1/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var alerts []Alert
	decodeResult(t, rec, &alerts)
	assert.Empty(t, alerts)

	rec = call(t, newHarness(t, "").Router(), http.MethodGet, "/pricing", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

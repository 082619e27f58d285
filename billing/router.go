package billing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/zllovesuki/stylo/gateway"
	"github.com/zllovesuki/stylo/locker"
	"github.com/zllovesuki/stylo/payment"
	resp "github.com/zllovesuki/stylo/response"
	"github.com/zllovesuki/stylo/subscription"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// RegisterStaffRequest contains the staff member and the business data to keep a copy of
type RegisterStaffRequest struct {
	StaffID      string `json:"staffId" validate:"required"`
	StaffName    string `json:"staffName" validate:"required"`
	BusinessName string `json:"businessName" validate:"required"`
	Email        string `json:"email" validate:"omitempty,email"`
	Phone        string `json:"phone"`
	Timezone     string `json:"timezone"`
}

// AddPaymentMethodRequest contains the card token produced by the gateway's client side library
type AddPaymentMethodRequest struct {
	Token      string `json:"token" validate:"required"`
	SetDefault bool   `json:"setDefault"`
}

// CourtesyRequest grants courtesy access. A missing days grants it without limit.
type CourtesyRequest struct {
	Days   *int   `json:"days" validate:"omitempty,min=0"`
	Reason string `json:"reason" validate:"required"`
}

// PayRequest optionally selects the payment method to charge
type PayRequest struct {
	PaymentMethodID *string `json:"paymentMethodId" validate:"omitempty,min=1"`
}

// BookableResponse answers the booking gate
type BookableResponse struct {
	CanReceiveBookings bool   `json:"canReceiveBookings"`
	Reason             string `json:"reason,omitempty"`
}

// PaymentResponse reports the outcome of a charge
type PaymentResponse struct {
	Success bool             `json:"success"`
	Payment *payment.Payment `json:"payment"`
}

// decodeBody fills v from the request body and validates it. An empty body leaves v untouched
// when allowEmpty is set.
func decodeBody(r *http.Request, v interface{}, allowEmpty bool) *resp.Error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return resp.ErrInvalidJson()
		}
	}
	if err := validate.Struct(v); err != nil {
		return resp.ErrValidation(err)
	}
	return nil
}

// writeServiceError maps the errors returned by Service onto the response envelope
func (s *Service) writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, message string) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		resp.WriteError(w, r, resp.ErrValidation(err))
	case errors.Is(err, ErrBusinessNotFound),
		errors.Is(err, ErrStaffNotFound),
		errors.Is(err, ErrInvoiceNotFound),
		errors.Is(err, ErrMethodNotFound):
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages(err.Error()))
	case errors.Is(err, ErrInvoiceAlreadyPaid),
		errors.Is(err, ErrInvoiceCancelled),
		errors.Is(err, subscription.ErrInvalidTransition):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages(err.Error()))
	case errors.Is(err, ErrCourtesyDefault),
		errors.Is(err, ErrCourtesyMethod):
		resp.WriteError(w, r, resp.ErrConflict().WithCode("courtesy_active").AddMessages(err.Error()))
	case errors.Is(err, locker.ErrNotObtained):
		resp.WriteError(w, r, resp.ErrConflict().WithCode("billing_busy").AddMessages("Another billing operation is running for this business"))
	case errors.Is(err, ErrNoActivePlan),
		errors.Is(err, ErrNoPaymentMethod):
		resp.WriteError(w, r, resp.ErrUnprocessable().AddMessages(err.Error()))
	default:
		logger.Error(message,
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages(message))
	}
}

func asGatewayError(err error) *gateway.Error {
	var gErr *gateway.Error
	if errors.As(err, &gErr) {
		return gErr
	}
	return nil
}

func (s *Service) businessLogger(r *http.Request) (string, *zap.Logger) {
	businessID := chi.URLParam(r, "id")
	return businessID, s.Logger.With(zap.String("BusinessID", businessID))
}

func (s *Service) getBookable(w http.ResponseWriter, r *http.Request) {
	businessID, logger := s.businessLogger(r)

	allowed, reason, err := s.CanReceiveBookings(r.Context(), businessID)
	if err != nil {
		s.writeServiceError(w, r, logger, err, "Unable to check booking eligibility")
		return
	}
	resp.WriteResponse(w, r, BookableResponse{
		CanReceiveBookings: allowed,
		Reason:             reason,
	})
}

func (s *Service) getAlerts(w http.ResponseWriter, r *http.Request) {
	businessID, logger := s.businessLogger(r)

	alerts, err := s.GetAlerts(r.Context(), businessID)
	if err != nil {
		s.writeServiceError(w, r, logger, err, "Unable to list alerts")
		return
	}
	resp.WriteResponse(w, r, alerts)
}

func (s *Service) getPricing(w http.ResponseWriter, r *http.Request) {
	p, err := s.GetCurrentPricing(r.Context())
	if err != nil {
		s.writeServiceError(w, r, s.Logger, err, "Unable to get pricing")
		return
	}
	resp.WriteResponse(w, r, p)
}

func (s *Service) getSummary(w http.ResponseWriter, r *http.Request) {
	businessID, logger := s.businessLogger(r)

	summary, err := s.GetSubscriptionSummary(r.Context(), businessID)
	if err != nil {
		s.writeServiceError(w, r, logger, err, "Unable to get subscription summary")
		return
	}
	resp.WriteResponse(w, r, summary)
}

func (s *Service) listInvoices(w http.ResponseWriter, r *http.Request) {
	businessID, logger := s.businessLogger(r)

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 0 {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid limit param"))
			return
		}
		limit = parsed
	}

	invoices, err := s.ListInvoices(r.Context(), businessID, limit)
	if err != nil {
		s.writeServiceError(w, r, logger, err, "Unable to list invoices")
		return
	}
	resp.WriteResponse(w, r, invoices)
}

func (s *Service) getPending(w http.ResponseWriter, r *http.Request) {
	businessID, logger := s.businessLogger(r)

	amount, err := s.GetPendingAmount(r.Context(), businessID)
	if err != nil {
		s.writeServiceError(w, r, logger, err, "Unable to get pending amount")
		return
	}
	resp.WriteResponse(w, r, map[string]interface{}{
		"pendingAmount": amount,
	})
}

func (s *Service) registerStaff(w http.ResponseWriter, r *http.Request) {
	businessID, logger := s.businessLogger(r)

	var req RegisterStaffRequest
	if rErr := decodeBody(r, &req, false); rErr != nil {
		resp.WriteError(w, r, rErr)
		return
	}

	staff, err := s.RegisterStaff(r.Context(), Staff{
		ID:   req.StaffID,
		Name: req.StaffName,
	}, subscription.Profile{
		ID:       businessID,
		Name:     req.BusinessName,
		Email:    req.Email,
		Phone:    req.Phone,
		Timezone: req.Timezone,
	})
	if err != nil {
		s.writeServiceError(w, r, logger.With(zap.String("StaffID", req.StaffID)), err, "Unable to register staff")
		return
	}
	resp.WriteStatus(w, r, http.StatusCreated, staff)
}

func (s *Service) activateStaff(w http.ResponseWriter, r *http.Request) {
	businessID, logger := s.businessLogger(r)
	staffID := chi.URLParam(r, "staffID")

	staff, err := s.ActivateStaff(r.Context(), businessID, staffID)
	if err != nil {
		s.writeServiceError(w, r, logger.With(zap.String("StaffID", staffID)), err, "Unable to activate staff")
		return
	}
	resp.WriteResponse(w, r, staff)
}

func (s *Service) postDeactivateStaff(w http.ResponseWriter, r *http.Request) {
	businessID, logger := s.businessLogger(r)
	staffID := chi.URLParam(r, "staffID")

	staff, err := s.DeactivateStaff(r.Context(), businessID, staffID)
	if err != nil {
		s.writeServiceError(w, r, logger.With(zap.String("StaffID", staffID)), err, "Unable to deactivate staff")
		return
	}
	resp.WriteResponse(w, r, staff)
}

func (s *Service) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	businessID, logger := s.businessLogger(r)

	methods, err := s.ListPaymentMethods(r.Context(), businessID)
	if err != nil {
		s.writeServiceError(w, r, logger, err, "Unable to list payment methods")
		return
	}
	resp.WriteResponse(w, r, methods)
}

func (s *Service) addPaymentMethod(w http.ResponseWriter, r *http.Request) {
	businessID, logger := s.businessLogger(r)

	var req AddPaymentMethodRequest
	if rErr := decodeBody(r, &req, false); rErr != nil {
		resp.WriteError(w, r, rErr)
		return
	}

	method, err := s.AddPaymentMethod(r.Context(), businessID, req.Token, req.SetDefault)
	if err != nil {
		if gErr := asGatewayError(err); gErr != nil {
			resp.WriteError(w, r, resp.ErrPayment(gErr.Code, gErr.UserMessage()))
			return
		}
		s.writeServiceError(w, r, logger, err, "Unable to add payment method")
		return
	}
	resp.WriteStatus(w, r, http.StatusCreated, method)
}

func (s *Service) setDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	businessID, logger := s.businessLogger(r)
	methodID := chi.URLParam(r, "methodID")

	method, err := s.SetDefaultPaymentMethod(r.Context(), businessID, methodID)
	if err != nil {
		s.writeServiceError(w, r, logger.With(zap.String("PaymentMethodID", methodID)), err, "Unable to change default payment method")
		return
	}
	resp.WriteResponse(w, r, method)
}

func (s *Service) removePaymentMethod(w http.ResponseWriter, r *http.Request) {
	businessID, logger := s.businessLogger(r)
	methodID := chi.URLParam(r, "methodID")

	if err := s.RemovePaymentMethod(r.Context(), businessID, methodID); err != nil {
		s.writeServiceError(w, r, logger.With(zap.String("PaymentMethodID", methodID)), err, "Unable to remove payment method")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) enableCourtesy(w http.ResponseWriter, r *http.Request) {
	businessID, logger := s.businessLogger(r)

	var req CourtesyRequest
	if rErr := decodeBody(r, &req, false); rErr != nil {
		resp.WriteError(w, r, rErr)
		return
	}

	b, err := s.EnableCourtesy(r.Context(), businessID, req.Days, req.Reason)
	if err != nil {
		s.writeServiceError(w, r, logger, err, "Unable to enable courtesy access")
		return
	}
	resp.WriteResponse(w, r, b)
}

func (s *Service) disableCourtesy(w http.ResponseWriter, r *http.Request) {
	businessID, logger := s.businessLogger(r)

	b, err := s.DisableCourtesy(r.Context(), businessID)
	if err != nil {
		s.writeServiceError(w, r, logger, err, "Unable to disable courtesy access")
		return
	}
	resp.WriteResponse(w, r, b)
}

func (s *Service) getInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")
	logger := s.Logger.With(zap.String("InvoiceID", invoiceID))

	inv, err := s.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		s.writeServiceError(w, r, logger, err, "Unable to get invoice")
		return
	}
	resp.WriteResponse(w, r, inv)
}

func (s *Service) payInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")
	logger := s.Logger.With(zap.String("InvoiceID", invoiceID))

	var req PayRequest
	if rErr := decodeBody(r, &req, true); rErr != nil {
		resp.WriteError(w, r, rErr)
		return
	}

	success, attempt, err := s.ProcessInvoicePayment(r.Context(), invoiceID, req.PaymentMethodID)
	if err != nil {
		s.writeServiceError(w, r, logger, err, "Unable to process payment")
		return
	}
	resp.WriteResponse(w, r, PaymentResponse{
		Success: success,
		Payment: attempt,
	})
}

func (s *Service) retryInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")
	logger := s.Logger.With(zap.String("InvoiceID", invoiceID))

	success, attempt, err := s.RetryFailedPayment(r.Context(), invoiceID)
	if err != nil {
		s.writeServiceError(w, r, logger, err, "Unable to retry payment")
		return
	}
	resp.WriteResponse(w, r, PaymentResponse{
		Success: success,
		Payment: attempt,
	})
}

// Router will return the routes under the billing API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/pricing", s.getPricing)

	r.Route("/businesses/{id}", func(r chi.Router) {
		r.Get("/bookable", s.getBookable)
		r.Get("/summary", s.getSummary)
		r.Get("/alerts", s.getAlerts)
		r.Get("/invoices", s.listInvoices)
		r.Get("/pending", s.getPending)

		r.Post("/staff", s.registerStaff)
		r.Post("/staff/{staffID}/activate", s.activateStaff)
		r.Post("/staff/{staffID}/deactivate", s.postDeactivateStaff)

		r.Get("/payment-methods", s.listPaymentMethods)
		r.Post("/payment-methods", s.addPaymentMethod)
		r.Post("/payment-methods/{methodID}/default", s.setDefaultPaymentMethod)
		r.Delete("/payment-methods/{methodID}", s.removePaymentMethod)

		r.Post("/courtesy", s.enableCourtesy)
		r.Delete("/courtesy", s.disableCourtesy)
	})

	r.Route("/invoices/{id}", func(r chi.Router) {
		r.Get("/", s.getInvoice)
		r.Post("/pay", s.payInvoice)
		r.Post("/retry", s.retryInvoice)
	})

	return r
}

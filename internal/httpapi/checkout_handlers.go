package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/shopspring/decimal"

	"partsdesk/checkout/internal/checkout"
	"partsdesk/checkout/internal/domain"
)

type addLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity,omitempty"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type loadInvoiceRequest struct {
	InvoiceID string `json:"invoice_id"`
}

type pricingRequest struct {
	DiscountValue decimal.Decimal     `json:"discount_value"`
	DiscountType  domain.DiscountType `json:"discount_type"`
	ApplyTax      bool                `json:"apply_tax"`
}

type customerRequest struct {
	CustomerID string `json:"customer_id"`
}

type payRequest struct {
	Method domain.PaymentMethod `json:"method"`
}

type mobilePaymentRequest struct {
	PhoneNumber string `json:"phone_number"`
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	products, err := a.service.Products(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	customers, err := a.service.Customers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleUnpaidInvoices(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	invoices, err := a.service.UnpaidInvoices(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (a *API) handleOpenCheckout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	a.respondSnapshot(w, http.StatusCreated)(a.service.OpenCheckout(r.Context()))
}

func (a *API) handleGetCheckout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	a.respondSnapshot(w, http.StatusOK)(a.service.Checkout(r.Context()))
}

func (a *API) handleCloseCheckout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := a.service.CloseCheckout(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddLine(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req addLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, errors.New("product_id is required"))
		return
	}

	if req.Quantity < 0 {
		writeError(w, http.StatusBadRequest, errors.New("quantity must not be negative"))
		return
	}
	a.respondSnapshot(w, http.StatusOK)(a.service.AddProductQuantity(r.Context(), req.ProductID, req.Quantity))
}

func (a *API) handleSetQuantity(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req setQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.respondSnapshot(w, http.StatusOK)(a.service.SetQuantity(r.Context(), ps.ByName("productID"), req.Quantity))
}

func (a *API) handleRemoveLine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	a.respondSnapshot(w, http.StatusOK)(a.service.RemoveLine(r.Context(), ps.ByName("productID")))
}

func (a *API) handleLoadInvoice(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req loadInvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.InvoiceID) == "" {
		writeError(w, http.StatusBadRequest, errors.New("invoice_id is required"))
		return
	}
	a.respondSnapshot(w, http.StatusOK)(a.service.LoadInvoice(r.Context(), strings.TrimSpace(req.InvoiceID)))
}

func (a *API) handleUnlock(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	a.respondSnapshot(w, http.StatusOK)(a.service.UnlockInvoice(r.Context()))
}

func (a *API) handlePricing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req pricingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch req.DiscountType {
	case "":
		req.DiscountType = domain.DiscountFixed
	case domain.DiscountFixed, domain.DiscountPercent:
	default:
		writeError(w, http.StatusBadRequest, errors.New("discount_type must be fixed or percent"))
		return
	}

	a.respondSnapshot(w, http.StatusOK)(a.service.SetPricing(r.Context(), checkout.PricingInput{
		DiscountValue: req.DiscountValue,
		DiscountType:  req.DiscountType,
		ApplyTax:      req.ApplyTax,
	}))
}

func (a *API) handleCustomer(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req customerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.respondSnapshot(w, http.StatusOK)(a.service.SelectCustomer(r.Context(), strings.TrimSpace(req.CustomerID)))
}

func (a *API) handlePay(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req payRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sale, err := a.service.PayDirect(r.Context(), req.Method)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleStartMobilePayment(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req mobilePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.respondSnapshot(w, http.StatusAccepted)(a.service.StartMobilePayment(r.Context(), req.PhoneNumber))
}

func (a *API) handleRetryMobilePayment(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	a.respondSnapshot(w, http.StatusOK)(a.service.RetryMobilePayment(r.Context()))
}

func (a *API) handleAbandonMobilePayment(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	a.respondSnapshot(w, http.StatusOK)(a.service.AbandonMobilePayment(r.Context()))
}

// respondSnapshot writes a checkout snapshot with status, or the mapped
// error.
func (a *API) respondSnapshot(w http.ResponseWriter, status int) func(domain.CheckoutSnapshot, error) {
	return func(snap domain.CheckoutSnapshot, err error) {
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, status, map[string]any{"checkout": snap})
	}
}

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"goldledger/internal/domain"
	"goldledger/internal/excel"
	"goldledger/internal/inventory"
	"goldledger/internal/invoice"
	"goldledger/internal/logging"
	"goldledger/internal/pricing"
	"goldledger/internal/service"
	"goldledger/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

const maxUploadBytes = 32 << 20

type Handler struct {
	svc      *service.Service
	log      logrus.FieldLogger
	validate *validator.Validate
}

func NewHandler(svc *service.Service, log logrus.FieldLogger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{svc: svc, log: log, validate: v}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoice.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.svc.CreateInvoice(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "CreateInvoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.InvoiceListFilter{}
	var err error

	if filter.CustomerID, err = parseOptionalInt64(query.Get("customer_id")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		filter.Status = domain.InvoiceStatus(raw)
		if !filter.Status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}
	if filter.From, err = parseOptionalTime(query.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	if filter.To, err = parseOptionalTime(query.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	if filter.Limit, err = parseOptionalInt(query.Get("limit"), store.DefaultListLimit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = parseOptionalInt(query.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.svc.ListInvoices(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "ListInvoices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inv, err := h.svc.GetInvoice(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "GetInvoice", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req invoice.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.svc.UpdateInvoice(r.Context(), id, req)
	if err != nil {
		h.writeServiceError(w, r, "UpdateInvoice", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type cancelInvoiceRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req cancelInvoiceRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.validRequest(w, req) {
		return
	}
	cancelled, err := h.svc.CancelInvoice(r.Context(), id, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "CancelInvoice", err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

type availabilityRequest struct {
	Items []inventory.Request `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.validRequest(w, req) {
		return
	}
	missing, err := h.svc.CheckAvailability(r.Context(), req.Items)
	if err != nil {
		h.writeServiceError(w, r, "CheckAvailability", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available":   len(missing) == 0,
		"unavailable": missing,
	})
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.LowStock(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "LowStock", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) Movements(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	movements, err := h.svc.Movements(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Movements", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": movements, "count": len(movements)})
}

type adjustStockRequest struct {
	Delta int    `json:"delta" validate:"required,min=-1000000,max=1000000"`
	Notes string `json:"notes" validate:"max=500"`
}

func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req adjustStockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.validRequest(w, req) {
		return
	}
	item, err := h.svc.AdjustStock(r.Context(), id, req.Delta, req.Notes)
	if err != nil {
		h.writeServiceError(w, r, "AdjustStock", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) ImportStockExcel(w http.ResponseWriter, r *http.Request) {
	file, fileName, ok := formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	rows, err := excel.ParseStockTakeRows(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.svc.ImportStock(r.Context(), rows)
	if err != nil {
		h.writeServiceError(w, r, "ImportStockExcel", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file_name":  fileName,
		"total_rows": len(rows),
		"created":    result.Created,
		"updated":    result.Updated,
		"adjusted":   result.Adjusted,
	})
}

func (h *Handler) ImportPriceList(w http.ResponseWriter, r *http.Request) {
	file, fileName, ok := formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	rows, err := excel.ParsePriceListRows(fileName, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.svc.ImportPriceList(r.Context(), rows)
	if err != nil {
		h.writeServiceError(w, r, "ImportPriceList", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file_name":    fileName,
		"total_rows":   len(rows),
		"updated":      result.Updated,
		"unknown_skus": result.UnknownSKUs,
	})
}

func (h *Handler) CalculatePrice(w http.ResponseWriter, r *http.Request) {
	var params pricing.Params
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := h.svc.CalculatePrice(params)
	if err != nil {
		h.writeServiceError(w, r, "CalculatePrice", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) PriceBreakdown(w http.ResponseWriter, r *http.Request) {
	var params pricing.Params
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := h.svc.PriceBreakdown(params)
	if err != nil {
		h.writeServiceError(w, r, "PriceBreakdown", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// writeServiceError maps domain failures to status codes. Anything it does
// not recognise is logged and reported as a 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, funcName string, err error) {
	var (
		validationErr   invoice.ValidationErrors
		pricingErr      *pricing.PricingError
		insufficientErr *domain.InsufficientInventoryError
	)
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation failed",
			"fields": map[string]string(validationErr),
		})
	case errors.As(err, &pricingErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "invalid pricing parameters",
			"fields": pricingErr.Errors,
		})
	case errors.As(err, &insufficientErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":       "insufficient inventory",
			"unavailable": insufficientErr.Items,
		})
	case errors.Is(err, domain.ErrInvalidQuantity):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, invoice.ErrInvoiceCancelled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logging.LogError(h.log, "http", funcName, "request failed", map[string]any{
			"request_id": requestIDFrom(r.Context()),
			"path":       r.URL.Path,
		}, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) validRequest(w http.ResponseWriter, req any) bool {
	err := h.validate.Struct(req)
	if err == nil {
		return true
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fieldPath(fe.Namespace())] = fmt.Sprintf("failed %s validation", fe.Tag())
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error":  "validation failed",
		"fields": fields,
	})
	return false
}

// fieldPath turns "availabilityRequest.items[0].quantity" into "items.0.quantity".
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		namespace = namespace[idx+1:]
	}
	return strings.NewReplacer("[", ".", "]", "").Replace(namespace)
}

func formFile(w http.ResponseWriter, r *http.Request) (io.ReadCloser, string, bool) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return nil, "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return nil, "", false
	}
	return file, header.Filename, true
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func parseOptionalInt(raw string, defaultValue int) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %s", raw)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("value cannot be negative")
	}
	return parsed, nil
}

func parseOptionalInt64(raw string) (*int64, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed <= 0 {
		return nil, fmt.Errorf("invalid id value: %s", raw)
	}
	return &parsed, nil
}

func parseOptionalTime(raw string) (*time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, invoice.DateLayout} {
		if parsed, err := time.Parse(layout, value); err == nil {
			utc := parsed.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("invalid time")
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

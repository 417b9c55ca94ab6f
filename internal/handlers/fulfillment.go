package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	"github.com/lustreworks/fulfillment-api/internal/platform/httpx"
	"github.com/lustreworks/fulfillment-api/internal/platform/requestctx"
	"github.com/lustreworks/fulfillment-api/internal/services"
)

const (
	maxOrderBodySize  = 256 * 1024
	maxActionBodySize = 8 * 1024
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// FulfillmentHandlers exposes the back-office fulfillment operations.
type FulfillmentHandlers struct {
	fulfillment      services.Fulfillment
	limiter          *actorLimiter
	orderIdempotency func(http.Handler) http.Handler
}

// FulfillmentOption customises FulfillmentHandlers.
type FulfillmentOption func(*FulfillmentHandlers)

// WithActorRateLimit caps mutating requests per actor within the window.
func WithActorRateLimit(limit int, window time.Duration) FulfillmentOption {
	return func(h *FulfillmentHandlers) {
		h.limiter = newActorLimiter(limit, window, nil)
	}
}

// WithOrderIdempotency wraps order creation so retried submissions replay the first response.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) FulfillmentOption {
	return func(h *FulfillmentHandlers) {
		h.orderIdempotency = mw
	}
}

func NewFulfillmentHandlers(fulfillment services.Fulfillment, opts ...FulfillmentOption) *FulfillmentHandlers {
	h := &FulfillmentHandlers{fulfillment: fulfillment}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the fulfillment endpoints.
func (h *FulfillmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/customers/{customerID}/credit", h.validateCredit)
	r.Post("/quotes", h.quoteOrder)
	r.Group(func(mut chi.Router) {
		mut.Use(h.limiter.Middleware)
		if h.orderIdempotency != nil {
			mut.With(h.orderIdempotency).Post("/orders", h.createOrder)
		} else {
			mut.Post("/orders", h.createOrder)
		}
		mut.Post("/orders/{orderID}/production-tasks", h.createProductionTasks)
		mut.Post("/orders/{orderID}/stage", h.updateStage)
		mut.Post("/orders/{orderID}/cancel", h.cancelOrder)
	})
}

type orderLineRequest struct {
	ItemID        string `json:"item_id"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	Customization string `json:"customization"`
	SerialNumber  string `json:"serial_number"`
}

type createOrderRequest struct {
	CustomerID          string             `json:"customer_id"`
	PaymentMethod       string             `json:"payment_method"`
	Currency            string             `json:"currency"`
	SpecialInstructions string             `json:"special_instructions"`
	Rush                bool               `json:"rush"`
	ExpectedDelivery    *time.Time         `json:"expected_delivery"`
	Lines               []orderLineRequest `json:"lines"`
}

type quoteRequest struct {
	CustomerID string             `json:"customer_id"`
	Lines      []orderLineRequest `json:"lines"`
}

type stageUpdateRequest struct {
	CurrentStage string `json:"current_stage"`
	NextStage    string `json:"next_stage"`
	Notes        string `json:"notes"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *FulfillmentHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	var req createOrderRequest
	if !decodeBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	result := h.fulfillment.ProcessCompleteOrder(ctx, services.ProcessOrderRequest{
		CustomerID:          req.CustomerID,
		PaymentMethod:       domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		Lines:               toLineInputs(req.Lines),
		Currency:            req.Currency,
		SpecialInstructions: req.SpecialInstructions,
		Rush:                req.Rush,
		ExpectedDelivery:    req.ExpectedDelivery,
		ActorID:             requestctx.Actor(ctx),
	})
	if result.Error != nil {
		writeOperationError(ctx, w, result.Error)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, result.Data)
}

func (h *FulfillmentHandlers) validateCredit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("amount"))
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must be an integer in minor units", http.StatusBadRequest))
		return
	}

	result := h.fulfillment.ValidateCustomerCredit(ctx, chi.URLParam(r, "customerID"), amount)
	if result.Error != nil {
		writeOperationError(ctx, w, result.Error)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result.Data)
}

func (h *FulfillmentHandlers) quoteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	var req quoteRequest
	if !decodeBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	result := h.fulfillment.CalculateOrderTotal(ctx, toLineInputs(req.Lines), req.CustomerID)
	if result.Error != nil {
		writeOperationError(ctx, w, result.Error)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result.Data)
}

func (h *FulfillmentHandlers) createProductionTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	result := h.fulfillment.CreateProductionTasks(ctx, chi.URLParam(r, "orderID"))
	if result.Error != nil {
		writeOperationError(ctx, w, result.Error)
		return
	}
	tasks := make([]taskPayload, 0, len(*result.Data))
	for _, task := range *result.Data {
		tasks = append(tasks, buildTaskPayload(task))
	}
	httpx.WriteJSON(w, http.StatusCreated, taskListResponse{Tasks: tasks})
}

func (h *FulfillmentHandlers) updateStage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	var req stageUpdateRequest
	if !decodeBody(ctx, w, r, maxActionBodySize, &req) {
		return
	}

	result := h.fulfillment.UpdateOrderStage(ctx, services.StageUpdateRequest{
		OrderID:      chi.URLParam(r, "orderID"),
		CurrentStage: domain.ProductionStage(strings.ToUpper(strings.TrimSpace(req.CurrentStage))),
		NextStage:    domain.ProductionStage(strings.ToUpper(strings.TrimSpace(req.NextStage))),
		ActorID:      requestctx.Actor(ctx),
		Notes:        req.Notes,
	})
	if result.Error != nil {
		writeOperationError(ctx, w, result.Error)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildStagePayload(*result.Data))
}

func (h *FulfillmentHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	var req cancelOrderRequest
	if !decodeBody(ctx, w, r, maxActionBodySize, &req) {
		return
	}

	result := h.fulfillment.HandleOrderCancellation(ctx, services.CancellationRequest{
		OrderID: chi.URLParam(r, "orderID"),
		Reason:  req.Reason,
		ActorID: requestctx.Actor(ctx),
	})
	if result.Error != nil {
		writeOperationError(ctx, w, result.Error)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result.Data)
}

func (h *FulfillmentHandlers) available(ctx context.Context, w http.ResponseWriter) bool {
	if h == nil || h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func toLineInputs(lines []orderLineRequest) []services.OrderLineInput {
	out := make([]services.OrderLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, services.OrderLineInput{
			ItemID:        line.ItemID,
			Quantity:      line.Quantity,
			UnitPrice:     line.UnitPrice,
			Customization: line.Customization,
			SerialNumber:  line.SerialNumber,
		})
	}
	return out
}

// writeOperationError maps the fulfillment error taxonomy onto HTTP statuses.
func writeOperationError(ctx context.Context, w http.ResponseWriter, opErr *services.OperationError) {
	if opErr == nil {
		return
	}
	var (
		apiErr  httpx.Error
		details map[string]any
	)
	switch opErr.Kind {
	case services.ErrorKindValidation:
		apiErr = httpx.NewError("invalid_request", opErr.Message, http.StatusBadRequest)
		if len(opErr.Fields) > 0 {
			fields := make([]map[string]string, 0, len(opErr.Fields))
			for _, p := range opErr.Fields {
				fields = append(fields, map[string]string{"field": p.Field, "message": p.Message})
			}
			details = map[string]any{"fields": fields}
		}
	case services.ErrorKindCreditDenied:
		apiErr = httpx.NewError("credit_denied", opErr.Message, http.StatusUnprocessableEntity)
	case services.ErrorKindInsufficientInventory:
		apiErr = httpx.NewError("insufficient_inventory", opErr.Message, http.StatusConflict)
		details = map[string]any{
			"sku":       opErr.SKU,
			"requested": opErr.Requested,
			"available": opErr.Available,
		}
	case services.ErrorKindNotFound:
		apiErr = httpx.NewError("not_found", opErr.Message, http.StatusNotFound)
	case services.ErrorKindInvalidState:
		apiErr = httpx.NewError("invalid_state", opErr.Message, http.StatusConflict)
	default:
		apiErr = httpx.NewError("persistence_error", opErr.Message, http.StatusInternalServerError)
	}
	httpx.WriteError(ctx, w, apiErr.WithDetails(details))
}

type taskListResponse struct {
	Tasks []taskPayload `json:"tasks"`
}

type taskPayload struct {
	ID                  string `json:"id"`
	OrderID             string `json:"order_id"`
	OrderLineID         string `json:"order_line_id"`
	Stage               string `json:"stage"`
	Sequence            int    `json:"sequence"`
	AssignedWorkerID    string `json:"assigned_worker_id"`
	Status              string `json:"status"`
	EstimatedStart      string `json:"estimated_start"`
	EstimatedCompletion string `json:"estimated_completion"`
}

func buildTaskPayload(task domain.ProductionTask) taskPayload {
	return taskPayload{
		ID:                  task.ID,
		OrderID:             task.OrderID,
		OrderLineID:         task.OrderLineID,
		Stage:               string(task.Stage),
		Sequence:            task.Sequence,
		AssignedWorkerID:    task.AssignedWorkerID,
		Status:              string(task.Status),
		EstimatedStart:      formatTime(task.EstimatedStart),
		EstimatedCompletion: formatTime(task.EstimatedCompletion),
	}
}

type stagePayload struct {
	OrderID        string `json:"order_id"`
	PreviousStage  string `json:"previous_stage"`
	Stage          string `json:"stage"`
	OrderStatus    string `json:"order_status"`
	TasksCompleted int    `json:"tasks_completed"`
	TasksStarted   int    `json:"tasks_started"`
	TasksCreated   int    `json:"tasks_created"`
	Notes          string `json:"notes,omitempty"`
	UpdatedBy      string `json:"updated_by"`
	UpdatedAt      string `json:"updated_at"`
}

func buildStagePayload(res services.StageUpdateResult) stagePayload {
	return stagePayload{
		OrderID:        res.OrderID,
		PreviousStage:  string(res.PreviousStage),
		Stage:          string(res.Stage),
		OrderStatus:    string(res.OrderStatus),
		TasksCompleted: res.TasksCompleted,
		TasksStarted:   res.TasksStarted,
		TasksCreated:   res.TasksCreated,
		Notes:          res.Notes,
		UpdatedBy:      res.UpdatedBy,
		UpdatedAt:      formatTime(res.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

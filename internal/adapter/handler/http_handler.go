package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const (
	requestIDHeader   = "X-Request-ID"
	idempotencyHeader = "Idempotency-Key"
)

type sessionKey struct{}

type loginFunc func(ctx context.Context, username, password string) (domain.Session, error)

type HTTPHandler struct {
	orders  *service.OrderService
	catalog *service.CatalogService
	auth    *service.AuthService
	log     *zap.Logger
}

type PlaceOrderHTTPRequest struct {
	RequestID string `json:"request_id"`
	ItemID    int64  `json:"item_id"`
	Quantity  int    `json:"quantity"`
}

type PlaceOrderHTTPResponse struct {
	Success   bool      `json:"success"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	OrderID   int64     `json:"order_id,omitempty"`
	ItemID    int64     `json:"item_id,omitempty"`
	Quantity  int       `json:"quantity,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	Available *int      `json:"available,omitempty"`
}

type ItemHTTPRequest struct {
	Name  *string          `json:"name"`
	Price *decimal.Decimal `json:"price"`
	Stock *int             `json:"stock"`
}

type UserHTTPRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type ItemResponse struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type OrderResponse struct {
	OrderID   int64           `json:"order_id"`
	Username  string          `json:"username"`
	ItemID    int64           `json:"item_id"`
	ItemName  string          `json:"item_name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
}

type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewHTTPHandler(orders *service.OrderService, catalog *service.CatalogService, auth *service.AuthService, log *zap.Logger) *HTTPHandler {
	return &HTTPHandler{orders: orders, catalog: catalog, auth: auth, log: log}
}

// Routes builds the HTTP API. metrics may be nil.
func (h *HTTPHandler) Routes(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.authenticate(h.auth.Login))
			r.Get("/items", h.ListItems)
			r.Get("/items/{id}", h.GetItem)
			r.Post("/orders", h.PlaceOrder)
			r.Get("/orders/mine", h.ListMyOrders)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.authenticate(h.auth.LoginAdmin))
			r.Post("/items", h.AddItem)
			r.Patch("/items/{id}", h.UpdateItem)
			r.Delete("/items/{id}", h.DeleteItem)
			r.Get("/orders", h.ListAllOrders)
			r.Get("/users", h.ListUsers)
			r.Post("/users", h.CreateUser)
		})
	})

	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if key := r.Header.Get(idempotencyHeader); key != "" {
		req.RequestID = key
	}

	outcome, err := h.orders.PlaceOrderOnce(r.Context(), sessionFrom(r.Context()), req.RequestID, req.ItemID, req.Quantity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := PlaceOrderHTTPResponse{Status: string(outcome.Status)}
	switch outcome.Status {
	case domain.OutcomeCommitted:
		resp.Success = true
		resp.Message = "order placed successfully"
		resp.OrderID = outcome.Order.ID
		resp.ItemID = outcome.Order.ItemID
		resp.Quantity = outcome.Order.Quantity
		resp.CreatedAt = outcome.Order.CreatedAt
		writeJSON(w, http.StatusCreated, resp)
	case domain.OutcomeItemNotFound:
		resp.Message = "item not found"
		writeJSON(w, http.StatusNotFound, resp)
	case domain.OutcomeInsufficientStock:
		available := outcome.Available
		resp.Message = "insufficient stock"
		resp.Available = &available
		writeJSON(w, http.StatusConflict, resp)
	default:
		resp.Message = "order could not be placed, try again"
		writeJSON(w, http.StatusServiceUnavailable, resp)
	}
}

func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.ListItems(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]ItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toItemResponse(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	item, err := h.catalog.GetItem(r.Context(), sessionFrom(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *HTTPHandler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.catalog.ListMyOrders(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req ItemHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == nil || req.Price == nil || req.Stock == nil {
		writeError(w, http.StatusBadRequest, "name, price and stock are required")
		return
	}

	item, err := h.catalog.AddItem(r.Context(), sessionFrom(r.Context()), *req.Name, *req.Price, *req.Stock)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req ItemHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	update := domain.ItemUpdate{Name: req.Name, Price: req.Price, Stock: req.Stock}
	if err := h.catalog.UpdateItem(r.Context(), sessionFrom(r.Context()), id, update); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.catalog.DeleteItem(r.Context(), sessionFrom(r.Context()), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.catalog.ListAllOrders(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.catalog.ListUsers(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" {
		req.Role = string(domain.RoleCustomer)
	}

	user, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password, domain.Role(req.Role))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// authenticate resolves HTTP Basic credentials to a Session with login.
func (h *HTTPHandler) authenticate(login loginFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="storefront"`)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			sess, err := login(r.Context(), username, password)
			if err != nil {
				if errors.Is(err, service.ErrInvalidCredentials) {
					w.Header().Set("WWW-Authenticate", `Basic realm="storefront"`)
				}
				h.writeServiceError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (h *HTTPHandler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		h.log.Debug("http request",
			zap.String("request_id", w.Header().Get(requestIDHeader)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := httpStatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("request_id", w.Header().Get(requestIDHeader)),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, message)
}

func httpStatusFor(err error) (int, string) {
	var txErr *domain.TransactionError
	switch {
	case errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidItemID),
		errors.Is(err, service.ErrInvalidItem),
		errors.Is(err, service.ErrInvalidUser),
		errors.Is(err, service.ErrNoChanges):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrNotAuthenticated),
		errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, service.ErrNotPermitted):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, service.ErrDuplicateRequest),
		errors.Is(err, domain.ErrItemInUse),
		errors.Is(err, domain.ErrUserExists):
		return http.StatusConflict, err.Error()
	case errors.As(err, &txErr):
		return http.StatusServiceUnavailable, "transaction failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func sessionFrom(ctx context.Context) domain.Session {
	sess, _ := ctx.Value(sessionKey{}).(domain.Session)
	return sess
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return 0, false
	}
	return id, true
}

func toItemResponse(item domain.Item) ItemResponse {
	return ItemResponse{ID: item.ID, Name: item.Name, Price: item.Price, Stock: item.Stock}
}

func toUserResponse(u domain.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, Email: u.Email, Role: string(u.Role)}
}

func toOrderResponses(views []domain.OrderView) []OrderResponse {
	resp := make([]OrderResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, OrderResponse{
			OrderID:   v.OrderID,
			Username:  v.Username,
			ItemID:    v.ItemID,
			ItemName:  v.ItemName,
			Price:     v.Price,
			Quantity:  v.Quantity,
			CreatedAt: v.CreatedAt,
		})
	}
	return resp
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

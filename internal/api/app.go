package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/modavn/storefront/internal/db"
	"github.com/modavn/storefront/internal/metrics"
	"github.com/modavn/storefront/internal/middleware"
	"github.com/modavn/storefront/internal/services"
	"github.com/modavn/storefront/pkg/config"
)

// App holds application dependencies
type App struct {
	config          *config.Config
	db              *db.DB
	metrics         *metrics.AppMetrics
	productService  *services.ProductService
	cartService     *services.CartService
	voucherService  *services.VoucherService
	orderService    *services.OrderService
	userService     *services.UserService
	checkoutService *services.CheckoutService
}

// NewApp creates a new application instance
func NewApp(
	cfg *config.Config,
	database *db.DB,
	m *metrics.AppMetrics,
	ps *services.ProductService,
	cs *services.CartService,
	vs *services.VoucherService,
	os *services.OrderService,
	us *services.UserService,
	cks *services.CheckoutService,
) *App {
	return &App{
		config:          cfg,
		db:              database,
		metrics:         m,
		productService:  ps,
		cartService:     cs,
		voucherService:  vs,
		orderService:    os,
		userService:     us,
		checkoutService: cks,
	}
}

// SetupRoutes configures the HTTP routes
func (a *App) SetupRoutes(r *mux.Router) {
	// Middleware
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.RecoveryMiddleware)
	r.Use(middleware.MetricsMiddleware(a.metrics))

	// API Routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.AuthMiddleware(a.config.JWTSecret, a.metrics))

	// Products
	api.HandleFunc("/products", a.ListProductsHandler).Methods("GET")
	api.HandleFunc("/products", a.CreateProductHandler).Methods("POST")
	api.HandleFunc("/products/{id}", a.GetProductHandler).Methods("GET")
	api.HandleFunc("/products/{id}", a.UpdateProductHandler).Methods("PATCH")
	api.HandleFunc("/products/{id}", a.DeleteProductHandler).Methods("DELETE")

	// Cart
	api.HandleFunc("/cart", a.GetCartHandler).Methods("GET")
	api.HandleFunc("/cart", a.AddToCartHandler).Methods("POST")
	api.HandleFunc("/cart/{id}", a.UpdateCartLineHandler).Methods("PATCH")
	api.HandleFunc("/cart/{id}", a.RemoveCartLineHandler).Methods("DELETE")

	// Vouchers
	api.HandleFunc("/vouchers", a.ListVouchersHandler).Methods("GET")
	api.HandleFunc("/vouchers", a.CreateVoucherHandler).Methods("POST")
	api.HandleFunc("/vouchers/{id}", a.DeleteVoucherHandler).Methods("DELETE")
	api.HandleFunc("/vouchers/evaluate", a.EvaluateVoucherHandler).Methods("POST")

	// Checkout
	api.HandleFunc("/checkout", a.CheckoutHandler).Methods("POST")

	// Orders
	api.HandleFunc("/orders", a.ListOrdersHandler).Methods("GET")
	api.HandleFunc("/orders/{id}", a.GetOrderHandler).Methods("GET")
	api.HandleFunc("/orders/{id}/status", a.UpdateOrderStatusHandler).Methods("PUT")

	// Users
	api.HandleFunc("/users", a.CreateUserHandler).Methods("POST")
	api.HandleFunc("/users/{id}", a.GetUserHandler).Methods("GET")
	api.HandleFunc("/users/{id}", a.UpdateUserHandler).Methods("PATCH")

	// Health
	r.HandleFunc("/health", a.HealthHandler).Methods("GET")
}

// HealthHandler handles health check requests
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeServiceError maps service errors to HTTP responses. Typed
// errors carry their detail into the body so clients can react
// without parsing the message.
func writeServiceError(w http.ResponseWriter, err error) {
	var voucherErr *services.VoucherError
	if errors.As(err, &voucherErr) {
		status := http.StatusUnprocessableEntity
		if voucherErr.Reason == services.VoucherNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]interface{}{
			"error":     voucherErr.Error(),
			"reason":    voucherErr.Reason,
			"code":      voucherErr.Code,
			"min_order": voucherErr.MinOrder,
			"shortfall": voucherErr.Shortfall,
		})
		return
	}

	var stockErr *services.StockError
	if errors.As(err, &stockErr) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":    stockErr.Error(),
			"problems": stockErr.Problems,
		})
		return
	}

	var validationErr *services.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  validationErr.Error(),
			"fields": validationErr.Fields,
		})
		return
	}

	var transitionErr *services.TransitionError
	if errors.As(err, &transitionErr) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": transitionErr.Error(),
			"from":  transitionErr.From,
			"to":    transitionErr.To,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrProductNotFound),
		errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrCartLineNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrUserExists),
		errors.Is(err, services.ErrVoucherExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// requireUser pulls the authenticated user ID from the request
// context. Returns false after writing a 401 when it is missing.
func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return 0, false
	}
	return userID, true
}

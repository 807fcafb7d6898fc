// Package webhook receives the platform's mandatory privacy compliance
// webhooks. Every delivery is authenticated by an HMAC over the raw body
// before anything else happens. The engine holds no personal data, so every
// authenticated request is acknowledged with an empty result.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Topics handled by the receiver.
const (
	TopicCustomersDataRequest = "customers/data_request"
	TopicCustomersRedact      = "customers/redact"
	TopicShopRedact           = "shop/redact"
	TopicAppUninstalled       = "app/uninstalled"
)

// Service identification reported by GET / and GET /health.
const (
	ServiceName    = "Infinite Scroll Pro GDPR Webhooks"
	HealthName     = "Infinite Scroll Pro Webhooks"
	ServiceVersion = "1.0.0"
)

// DefaultMaxBodyBytes caps webhook bodies.
const DefaultMaxBodyBytes = 1 << 20

// ErrSecretRequired is returned by NewHandler without a signing secret.
var ErrSecretRequired = errors.New("webhook secret is required")

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scroll_webhook_requests_total",
		Help: "Total webhook requests by topic and response status",
	}, []string{"topic", "status"})

	verificationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scroll_webhook_verification_failures_total",
		Help: "Total webhook requests rejected for a missing or invalid signature",
	}, []string{"topic"})

	duplicateDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scroll_webhook_duplicate_deliveries_total",
		Help: "Total webhook deliveries acknowledged without processing because their id was seen before",
	}, []string{"topic"})
)

// Config holds receiver configuration.
type Config struct {
	// Secret is the app's webhook signing secret.
	Secret string

	// Deliveries deduplicates retried deliveries. Nil processes every delivery.
	Deliveries DeliveryStore

	// MaxBodyBytes caps request bodies. Zero uses DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Handler serves the webhook routes.
type Handler struct {
	secret     []byte
	deliveries DeliveryStore
	maxBody    int64
	mux        *http.ServeMux
	logger     zerolog.Logger
	now        func() time.Time
}

// NewHandler creates the receiver.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Secret == "" {
		return nil, ErrSecretRequired
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	h := &Handler{
		secret:     []byte(cfg.Secret),
		deliveries: cfg.Deliveries,
		maxBody:    cfg.MaxBodyBytes,
		mux:        http.NewServeMux(),
		logger:     log.With().Str("component", "webhooks").Logger(),
		now:        time.Now,
	}

	h.mux.HandleFunc("POST /webhooks/customers/data_request", h.topic(TopicCustomersDataRequest, h.dataRequest))
	h.mux.HandleFunc("POST /webhooks/customers/redact", h.topic(TopicCustomersRedact, h.customerRedact))
	h.mux.HandleFunc("POST /webhooks/shop/redact", h.topic(TopicShopRedact, h.shopRedact))
	h.mux.HandleFunc("POST /webhooks/app/uninstalled", h.topic(TopicAppUninstalled, h.appUninstalled))
	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("GET /{$}", h.index)

	return h, nil
}

// Endpoints lists the routes, as reported by GET /.
func Endpoints() []string {
	return []string{
		"POST /webhooks/customers/data_request",
		"POST /webhooks/customers/redact",
		"POST /webhooks/shop/redact",
		"POST /webhooks/app/uninstalled",
		"GET /health",
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// delivery is an authenticated webhook request.
type delivery struct {
	topic string
	shop  string
	id    string
	body  []byte
}

type topicFunc func(ctx context.Context, d delivery, logger zerolog.Logger) (Ack, error)

// topic authenticates the request, deduplicates it and hands it to fn.
func (h *Handler) topic(name string, fn topicFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.reply(w, name, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
				return
			}
			h.reply(w, name, http.StatusBadRequest, map[string]string{"error": "unreadable request body"})
			return
		}

		if !Verify(h.secret, body, r.Header.Get(HeaderHMAC)) {
			verificationFailuresTotal.WithLabelValues(name).Inc()
			h.logger.Warn().
				Str("topic", name).
				Str("remote_addr", r.RemoteAddr).
				Msg("Webhook signature verification failed")
			requestsTotal.WithLabelValues(name, strconv.Itoa(http.StatusUnauthorized)).Inc()
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		d := delivery{
			topic: name,
			shop:  r.Header.Get(HeaderShopDomain),
			id:    r.Header.Get(HeaderWebhookID),
			body:  body,
		}
		logger := h.logger.With().
			Str("topic", name).
			Str("shop", d.shop).
			Str("webhook_id", d.id).
			Logger()

		duplicate := h.isDuplicate(r.Context(), d, logger)
		topicLogger := logger
		if duplicate {
			topicLogger = zerolog.Nop()
		}

		ack, err := fn(r.Context(), d, topicLogger)
		if err != nil {
			logger.Warn().Err(err).Msg("Malformed webhook payload")
			h.reply(w, name, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		if duplicate {
			duplicateDeliveriesTotal.WithLabelValues(name).Inc()
			logger.Info().Msg("Duplicate webhook delivery acknowledged")
		} else {
			logger.Info().Msg("Webhook processed")
		}
		h.reply(w, name, http.StatusOK, ack)
	}
}

// isDuplicate reports whether the delivery id was seen before. Store
// failures are logged and the delivery is processed.
func (h *Handler) isDuplicate(ctx context.Context, d delivery, logger zerolog.Logger) bool {
	if h.deliveries == nil || d.id == "" {
		return false
	}
	first, err := h.deliveries.FirstDelivery(ctx, d.id)
	if err != nil {
		logger.Warn().Err(err).Msg("Delivery store unavailable, processing delivery")
		return false
	}
	return !first
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func (h *Handler) dataRequest(_ context.Context, d delivery, logger zerolog.Logger) (Ack, error) {
	var p DataRequest
	if err := decode(d.body, &p); err != nil {
		return Ack{}, err
	}

	id := customerID(p.Customer)
	logEvent := logger.Info().Int("orders_requested", len(p.OrdersRequested))
	if id != nil {
		logEvent = logEvent.Int64("customer_id", *id)
	}
	logEvent.Msg("Customer data request: no customer data stored")

	return Ack{
		Message:    "No customer data stored",
		CustomerID: id,
		Data:       json.RawMessage(`{}`),
	}, nil
}

func (h *Handler) customerRedact(_ context.Context, d delivery, logger zerolog.Logger) (Ack, error) {
	var p CustomerRedact
	if err := decode(d.body, &p); err != nil {
		return Ack{}, err
	}

	id := customerID(p.Customer)
	logEvent := logger.Info().Int("orders_to_redact", len(p.OrdersToRedact))
	if id != nil {
		logEvent = logEvent.Int64("customer_id", *id)
	}
	logEvent.Msg("Customer redaction request: no customer data to redact")

	return Ack{
		Message:    "No customer data to redact",
		CustomerID: id,
	}, nil
}

func (h *Handler) shopRedact(_ context.Context, d delivery, logger zerolog.Logger) (Ack, error) {
	var p ShopRedact
	if err := decode(d.body, &p); err != nil {
		return Ack{}, err
	}

	logger.Info().Str("shop_domain", p.ShopDomain).Msg("Shop redaction request: no shop data to redact")

	return Ack{
		Message: "No shop data to redact",
		ShopID:  p.ShopID,
	}, nil
}

func (h *Handler) appUninstalled(_ context.Context, _ delivery, logger zerolog.Logger) (Ack, error) {
	logger.Info().Msg("App uninstalled")
	return Ack{Message: "Uninstall acknowledged"}, nil
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   HealthName,
		"timestamp": h.now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handler) index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   ServiceName,
		"version":   ServiceVersion,
		"endpoints": Endpoints(),
	})
}

func (h *Handler) reply(w http.ResponseWriter, topic string, status int, body any) {
	requestsTotal.WithLabelValues(topic, strconv.Itoa(status)).Inc()
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

// Package webhook receives provider callbacks and turns them into store
// writes and bot transitions.
//
// The Handler answers the provider quickly: it checks the signature, stores
// the raw body in the queue and replies 200. The Worker later claims queued
// bodies and processes each message and status update under the customer
// lock.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/horosafe"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/metrics"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/shield"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/whatsapp"
)

// Enqueuer durably stores a raw webhook body. *vtq.Q satisfies it.
type Enqueuer interface {
	Publish(ctx context.Context, id string, payload []byte) (string, error)
}

// HandlerConfig holds the provider secrets the handler checks.
type HandlerConfig struct {
	VerifyToken string
	AppSecret   string
	// VerifySignatures turns on the X-Hub-Signature-256 check. It is set in
	// production.
	VerifySignatures bool
}

// Handler serves GET (verification handshake) and POST (event delivery).
type Handler struct {
	cfg     HandlerConfig
	queue   Enqueuer
	metrics *metrics.Metrics
}

func NewHandler(cfg HandlerConfig, queue Enqueuer, m *metrics.Metrics) *Handler {
	return &Handler{cfg: cfg, queue: queue, metrics: m}
}

// Routes mounts the handshake and receiver on r at the router root.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Verify)
	r.Post("/", h.Receive)
}

// Verify answers the subscription handshake. The challenge is echoed
// unmodified when the mode is "subscribe" and the token matches.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	log := shield.GetLogger(r.Context())
	if q.Get("hub.mode") != "subscribe" || !horosafe.EqualToken(q.Get("hub.verify_token"), h.cfg.VerifyToken) {
		log.Warn("webhook: verification rejected", "mode", q.Get("hub.mode"))
		h.reply(w, r, http.StatusForbidden)
		return
	}
	log.Info("webhook: verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	h.metrics.Webhook(r.Method, http.StatusOK)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(q.Get("hub.challenge")))
}

// Receive stores the delivery and acknowledges it. Bodies that are not JSON
// are acknowledged and dropped: the provider would only redeliver them.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())

	body, err := horosafe.LimitedReadAll(r.Body, horosafe.MaxWebhookBody)
	if err != nil {
		log.Warn("webhook: read body failed", "error", err)
		status := http.StatusBadRequest
		if errors.Is(err, horosafe.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.reply(w, r, status)
		return
	}

	if h.cfg.VerifySignatures && !whatsapp.VerifySignature(body, r.Header.Get("X-Hub-Signature-256"), h.cfg.AppSecret) {
		log.Warn("webhook: invalid signature", "bytes", len(body))
		h.reply(w, r, http.StatusForbidden)
		return
	}

	if !json.Valid(body) {
		log.Warn("webhook: body is not JSON, dropped", "bytes", len(body))
		h.reply(w, r, http.StatusOK)
		return
	}

	id, err := h.queue.Publish(r.Context(), "", body)
	if err != nil {
		log.Error("webhook: enqueue failed", "error", err)
		h.reply(w, r, http.StatusServiceUnavailable)
		return
	}
	log.Debug("webhook: enqueued", "job_id", id, "bytes", len(body))
	h.reply(w, r, http.StatusOK)
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, status int) {
	h.metrics.Webhook(r.Method, status)
	w.WriteHeader(status)
}

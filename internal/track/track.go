// Package track serves the per-delivery tracking endpoints embedded in
// outbound mail: the open pixel and the unsubscribe link. Both identify
// the recipient through the signed token, so a guessed URL cannot flip
// anyone else's state.
package track

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/lanes/internal/models"
	"github.com/foxzi/lanes/internal/repository"
	"github.com/foxzi/lanes/internal/token"
)

// 1x1 transparent GIF.
var pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type Handler struct {
	codec      *token.Codec
	recipients *repository.RecipientRepository
	deliveries *repository.DeliveryRepository
	logger     *slog.Logger
}

func NewHandler(db *sql.DB, codec *token.Codec, logger *slog.Logger) *Handler {
	return &Handler{
		codec:      codec,
		recipients: repository.NewRecipientRepository(db),
		deliveries: repository.NewDeliveryRepository(db),
		logger:     logger.With("component", "track"),
	}
}

// Routes returns the tracking router, mounted under the ops server.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/open/{token}", h.open)
	r.Get("/unsubscribe/{token}", h.unsubscribe)
	return r
}

// open records the open marker and always serves the pixel, so a broken
// or forged token is indistinguishable from a valid one.
func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	if d := h.resolve(r); d != nil {
		if err := h.deliveries.MarkOpened(d.ID); err != nil {
			h.logger.Error("failed to record open", "delivery", d.ID, "error", err)
		}
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(pixel)
}

func (h *Handler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	recipientID, _, err := h.codec.Parse(chi.URLParam(r, "token"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	rec, err := h.recipients.GetByID(recipientID)
	if err != nil {
		h.logger.Error("failed to load recipient", "recipient", recipientID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.NotFound(w, r)
		return
	}

	if d := h.resolve(r); d != nil {
		if err := h.deliveries.MarkUnsubscribed(d.ID); err != nil {
			h.logger.Error("failed to record unsubscribe", "delivery", d.ID, "error", err)
		}
	}
	if rec.Active {
		if err := h.recipients.Deactivate(rec.ID); err != nil {
			h.logger.Error("failed to deactivate recipient", "recipient", rec.ID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	if _, err := h.deliveries.CreateEvent(rec.ID, nil, "unsubscribed"); err != nil {
		h.logger.Error("failed to record unsubscribe event", "recipient", rec.ID, "error", err)
	}
	h.logger.Info("recipient unsubscribed", "recipient", rec.ID, "email", rec.Email)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("You have been unsubscribed.\n"))
}

// resolve returns the delivery a token refers to: the one it names, or
// the recipient's most recent one. Nil when the token is invalid or
// nothing correlates.
func (h *Handler) resolve(r *http.Request) *models.Delivery {
	recipientID, deliveryID, err := h.codec.Parse(chi.URLParam(r, "token"))
	if err != nil {
		return nil
	}
	var d *models.Delivery
	if deliveryID > 0 {
		d, err = h.deliveries.GetByID(deliveryID)
	} else {
		d, err = h.deliveries.LatestForRecipient(recipientID)
	}
	if err != nil {
		h.logger.Error("failed to correlate delivery", "recipient", recipientID, "error", err)
		return nil
	}
	if d != nil && d.RecipientID != recipientID {
		// Token and delivery disagree; trust neither.
		return nil
	}
	return d
}

// Package bounce reconciles returned mail with the delivery ledger. An
// inbound message is trusted only when the recipient token it carries
// decrypts to the recipient id it claims.
package bounce

import (
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/foxzi/lanes/internal/metrics"
	"github.com/foxzi/lanes/internal/models"
	"github.com/foxzi/lanes/internal/notify"
	"github.com/foxzi/lanes/internal/repository"
	"github.com/foxzi/lanes/internal/token"
)

// highBounceRate is the list bounce-rate threshold flagged to the owner.
const highBounceRate = 0.05

// excerptSize bounds how much of a bounce body is kept in event notes.
const excerptSize = 1024

// Marker formats scanned for in bounce bodies. The header form survives
// most relays; the subject form survives body-stripping ones.
var (
	headerMarker  = regexp.MustCompile(`(?m)^X-Mailanes-Recipient:\s*([0-9]+):([a-f0-9]+)(?::([0-9]+))?`)
	subjectMarker = regexp.MustCompile(`(?m)^Subject:.*MAILANES:([0-9]+):([a-f0-9]+)(?::([0-9]+))?`)
)

// Reconciler consumes inbound bounce messages and applies recipient and
// delivery state transitions.
type Reconciler struct {
	codec      *token.Codec
	recipients *repository.RecipientRepository
	deliveries *repository.DeliveryRepository
	lists      *repository.ListRepository
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewReconciler(db *sql.DB, codec *token.Codec, notifier notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		codec:      codec,
		recipients: repository.NewRecipientRepository(db),
		deliveries: repository.NewDeliveryRepository(db),
		lists:      repository.NewListRepository(db),
		notifier:   notifier,
		metrics:    m,
		logger:     logger.With("component", "bounce"),
	}
}

// Process runs one reconciliation pass over the source. A failure to
// read the mailbox aborts the pass (the next tick retries the whole
// read); a failure on one message is logged and does not abort the rest
// of the batch.
func (r *Reconciler) Process(src Source) error {
	msgs, err := src.Messages()
	if err != nil {
		return fmt.Errorf("failed to read bounce source: %w", err)
	}
	for _, msg := range msgs {
		if err := r.process(msg); err != nil {
			r.logger.Error("failed to process bounce message", "message", msg.ID(), "error", err)
		}
	}
	return nil
}

func (r *Reconciler) process(msg Message) error {
	body, err := msg.Body()
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}

	match := headerMarker.FindStringSubmatch(body)
	if match == nil {
		match = subjectMarker.FindStringSubmatch(body)
	}
	if match == nil {
		r.logger.Debug("no recipient marker found", "message", msg.ID())
		return nil
	}
	claimedID, hexSig, deliveryRef := match[1], match[2], match[3]

	if !r.codec.Verify(claimedID, hexSig) {
		// Forged or corrupted marker: skip without raising, keep the
		// message for manual inspection.
		r.metrics.BouncesRejected.Inc()
		r.logger.Warn("recipient marker failed verification",
			"message", msg.ID(),
			"claimed", claimedID,
			"excerpt", excerpt(body, 160),
		)
		return nil
	}

	recipientID, err := strconv.ParseInt(claimedID, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed recipient id %q: %w", claimedID, err)
	}
	rec, err := r.recipients.GetByID(recipientID)
	if err != nil {
		return err
	}
	if rec == nil {
		r.logger.Warn("bounce for unknown recipient", "message", msg.ID(), "recipient", recipientID)
		return nil
	}

	alreadyBounced, err := r.deliveries.RecipientBounced(recipientID)
	if err != nil {
		return err
	}

	delivery, err := r.correlate(recipientID, deliveryRef)
	if err != nil {
		return err
	}
	if delivery != nil {
		if err := r.deliveries.MarkBounced(delivery.ID); err != nil {
			return err
		}
		if _, err := r.deliveries.CreateEvent(recipientID, nil, "bounced: "+excerpt(body, excerptSize)); err != nil {
			return err
		}
	} else {
		r.logger.Warn("no delivery to correlate bounce with", "message", msg.ID(), "recipient", recipientID)
	}

	list, err := r.lists.GetByID(rec.ListID)
	if err != nil {
		return err
	}

	if alreadyBounced && list != nil {
		r.notifier.Notify("bounce.duplicate", list.Config.Notify,
			fmt.Sprintf("Recipient #%d (%s) bounced again; possible double-bounce anomaly", rec.ID, rec.Email))
	}

	if rec.Active {
		if err := r.recipients.Deactivate(rec.ID); err != nil {
			return err
		}
		r.logger.Info("recipient deactivated on bounce", "recipient", rec.ID, "email", rec.Email)
	}

	if list != nil {
		rate, err := r.lists.BounceRate(list.ID)
		if err != nil {
			return err
		}
		flag := ""
		if rate > highBounceRate {
			flag = "; HIGH"
		}
		r.notifier.Notify("bounce", list.Config.Notify,
			fmt.Sprintf("Recipient #%d (%s) bounced; list #%d bounce rate is %.2f%%%s", rec.ID, rec.Email, list.ID, rate*100, flag))
	}

	r.metrics.BouncesProcessed.Inc()

	// Delete only after everything above succeeded, so a partial
	// failure leaves the message for the next poll.
	if err := msg.Delete(); err != nil {
		return fmt.Errorf("failed to delete processed message: %w", err)
	}
	return nil
}

// correlate resolves the delivery a bounce refers to. A marker carrying
// a delivery id names it exactly; otherwise the recipient's most recent
// delivery is used, a heuristic for relays that strip the id in transit.
func (r *Reconciler) correlate(recipientID int64, deliveryRef string) (*models.Delivery, error) {
	if deliveryRef != "" {
		id, err := strconv.ParseInt(deliveryRef, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed delivery id %q: %w", deliveryRef, err)
		}
		return r.deliveries.GetByID(id)
	}
	return r.deliveries.LatestForRecipient(recipientID)
}

func excerpt(body string, max int) string {
	if len(body) <= max {
		return body
	}
	return body[:max]
}

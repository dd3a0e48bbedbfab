package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/lanes/internal/models"
)

type DeliveryRepository struct {
	db *sql.DB
}

func NewDeliveryRepository(db *sql.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Create inserts a pending delivery for a (recipient, campaign, letter)
// triple. The relax marker, when the letter declares one, is persisted in
// the same statement so the cooldown is reserved even if the send fails.
func (r *DeliveryRepository) Create(recipientID, campaignID, letterID int64, relax *time.Time) (*models.Delivery, error) {
	d := &models.Delivery{
		RecipientID: recipientID,
		CampaignID:  &campaignID,
		LetterID:    &letterID,
		Relax:       relax,
		CreatedAt:   time.Now().UTC(),
	}

	res, err := r.db.Exec(`
		INSERT INTO deliveries (recipient_id, campaign_id, letter_id, created_at, relax)
		VALUES (?, ?, ?, ?, ?)`,
		d.RecipientID, d.CampaignID, d.LetterID, d.CreatedAt, d.Relax,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return d, nil
}

// CreateEvent records a non-send event (decoy, note) as an already
// closed delivery.
func (r *DeliveryRepository) CreateEvent(recipientID int64, campaignID *int64, details string) (*models.Delivery, error) {
	d := &models.Delivery{
		RecipientID: recipientID,
		CampaignID:  campaignID,
		Details:     details,
		CreatedAt:   time.Now().UTC(),
	}

	res, err := r.db.Exec(`
		INSERT INTO deliveries (recipient_id, campaign_id, created_at, details)
		VALUES (?, ?, ?, ?)`,
		d.RecipientID, d.CampaignID, d.CreatedAt, d.Details,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return d, nil
}

// Close writes the transport outcome, ending the pending state. The
// outcome is terminal for the send attempt; sends are never retried.
func (r *DeliveryRepository) Close(id int64, details string) error {
	if details == "" {
		details = "-"
	}
	_, err := r.db.Exec(`UPDATE deliveries SET details = ? WHERE id = ?`, details, id)
	return err
}

// GetByID returns a delivery by ID, or nil when it does not exist.
func (r *DeliveryRepository) GetByID(id int64) (*models.Delivery, error) {
	row := r.db.QueryRow(`
		SELECT id, recipient_id, campaign_id, letter_id, created_at, relax, details, opened, bounced, unsubscribed
		FROM deliveries WHERE id = ?`, id)
	d, err := scanDelivery(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// LatestForRecipient returns the recipient's most recent delivery, or
// nil when there is none. The bounce reconciler falls back to it when a
// marker arrives without a delivery identifier.
func (r *DeliveryRepository) LatestForRecipient(recipientID int64) (*models.Delivery, error) {
	row := r.db.QueryRow(`
		SELECT id, recipient_id, campaign_id, letter_id, created_at, relax, details, opened, bounced, unsubscribed
		FROM deliveries WHERE recipient_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, recipientID)
	d, err := scanDelivery(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// MarkBounced stamps the bounce marker. Reapplying overwrites the
// timestamp; the reconciler warns about double-bounces separately.
func (r *DeliveryRepository) MarkBounced(id int64) error {
	_, err := r.db.Exec(`UPDATE deliveries SET bounced = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// MarkUnsubscribed stamps the unsubscribe marker.
func (r *DeliveryRepository) MarkUnsubscribed(id int64) error {
	_, err := r.db.Exec(`UPDATE deliveries SET unsubscribed = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// MarkOpened stamps the open marker.
func (r *DeliveryRepository) MarkOpened(id int64) error {
	_, err := r.db.Exec(`UPDATE deliveries SET opened = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// RecipientBounced reports whether any of the recipient's deliveries has
// bounced already.
func (r *DeliveryRepository) RecipientBounced(recipientID int64) (bool, error) {
	var n int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM deliveries
		WHERE recipient_id = ? AND bounced IS NOT NULL`, recipientID,
	).Scan(&n)
	return n > 0, err
}

// DeleteStalePending removes deliveries that are still pending past the
// cutoff: a liveness safeguard against a crashed send leaving the triple
// reserved forever.
func (r *DeliveryRepository) DeleteStalePending(olderThan time.Duration) (int64, error) {
	res, err := r.db.Exec(`
		DELETE FROM deliveries WHERE details = '' AND created_at < ?`,
		time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountForCampaign returns deliveries attributed to the campaign inside
// the sliding window ending now.
func (r *DeliveryRepository) CountForCampaign(campaignID int64, window time.Duration) (int, error) {
	var n int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM deliveries
		WHERE campaign_id = ? AND created_at > ?`,
		campaignID, time.Now().UTC().Add(-window),
	).Scan(&n)
	return n, err
}

func scanDelivery(scan func(...any) error) (*models.Delivery, error) {
	var (
		d          models.Delivery
		campaignID sql.NullInt64
		letterID   sql.NullInt64
		relax      sql.NullTime
		opened     sql.NullTime
		bounced    sql.NullTime
		unsub      sql.NullTime
	)
	err := scan(&d.ID, &d.RecipientID, &campaignID, &letterID, &d.CreatedAt,
		&relax, &d.Details, &opened, &bounced, &unsub)
	if err != nil {
		return nil, err
	}
	if campaignID.Valid {
		v := campaignID.Int64
		d.CampaignID = &v
	}
	if letterID.Valid {
		v := letterID.Int64
		d.LetterID = &v
	}
	for _, m := range []struct {
		src sql.NullTime
		dst **time.Time
	}{{relax, &d.Relax}, {opened, &d.Opened}, {bounced, &d.Bounced}, {unsub, &d.Unsubscribed}} {
		if m.src.Valid {
			t := m.src.Time
			*m.dst = &t
		}
	}
	return &d, nil
}

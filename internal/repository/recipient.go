package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/lanes/internal/models"
)

type RecipientRepository struct {
	db *sql.DB
}

func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// Create validates the address and inserts the recipient into its list.
// On an exclusive list, an active duplicate of the same address is
// rejected.
func (r *RecipientRepository) Create(rec *models.Recipient) error {
	if err := models.ValidateEmail(rec.Email); err != nil {
		return err
	}
	if err := r.checkExclusive(rec); err != nil {
		return err
	}
	rec.CreatedAt = time.Now().UTC()

	res, err := r.db.Exec(`
		INSERT INTO recipients (list_id, email, first_name, last_name, source, active, confirmed, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ListID, rec.Email, rec.First, rec.Last, rec.Source, rec.Active, rec.Confirmed, rec.Metadata, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recipient: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func (r *RecipientRepository) checkExclusive(rec *models.Recipient) error {
	var doc string
	err := r.db.QueryRow(`SELECT config FROM lists WHERE id = ?`, rec.ListID).Scan(&doc)
	if err == sql.ErrNoRows {
		return fmt.Errorf("list #%d does not exist", rec.ListID)
	}
	if err != nil {
		return err
	}
	cfg, err := models.ParseListConfig(doc)
	if err != nil {
		return err
	}
	if !cfg.Exclusive {
		return nil
	}

	var n int
	if err := r.db.QueryRow(`
		SELECT COUNT(*) FROM recipients
		WHERE list_id = ? AND email = ? AND active = 1`,
		rec.ListID, rec.Email,
	).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("address %q is already active on exclusive list #%d", rec.Email, rec.ListID)
	}
	return nil
}

// GetByID returns a recipient by ID, or nil when it does not exist.
func (r *RecipientRepository) GetByID(id int64) (*models.Recipient, error) {
	rec := &models.Recipient{}
	err := r.db.QueryRow(`
		SELECT id, list_id, email, first_name, last_name, source, active, confirmed, metadata, created_at
		FROM recipients WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.ListID, &rec.Email, &rec.First, &rec.Last, &rec.Source,
		&rec.Active, &rec.Confirmed, &rec.Metadata, &rec.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Toggle flips the active flag and records the event as a closed
// delivery, atomically.
func (r *RecipientRepository) Toggle(id int64, note string) error {
	return r.withEvent(id, note, `UPDATE recipients SET active = NOT active WHERE id = ?`)
}

// Deactivate clears the active flag without touching the event log.
// Bounce reconciliation records its own event notes.
func (r *RecipientRepository) Deactivate(id int64) error {
	_, err := r.db.Exec(`UPDATE recipients SET active = 0 WHERE id = ?`, id)
	return err
}

// Confirm marks the recipient as confirmed.
func (r *RecipientRepository) Confirm(id int64) error {
	_, err := r.db.Exec(`UPDATE recipients SET confirmed = 1 WHERE id = ?`, id)
	return err
}

// Move transfers the recipient to another list and records the event as
// a closed delivery, atomically. Moving changes ownership.
func (r *RecipientRepository) Move(id, listID int64, note string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE recipients SET list_id = ? WHERE id = ?`, listID, id); err != nil {
		return fmt.Errorf("failed to move recipient: %w", err)
	}
	if err := insertEvent(tx, id, note); err != nil {
		return err
	}
	return tx.Commit()
}

// Comment records a free-form note against the recipient as a closed
// delivery with no campaign or letter reference.
func (r *RecipientRepository) Comment(id int64, note string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertEvent(tx, id, note); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes the recipient and, via cascade, its deliveries.
func (r *RecipientRepository) Delete(id int64) error {
	_, err := r.db.Exec(`DELETE FROM recipients WHERE id = ?`, id)
	return err
}

func (r *RecipientRepository) withEvent(id int64, note, stmt string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(stmt, id); err != nil {
		return err
	}
	if err := insertEvent(tx, id, note); err != nil {
		return err
	}
	return tx.Commit()
}

// insertEvent writes a manual-event delivery: already closed, no
// campaign or letter reference.
func insertEvent(tx *sql.Tx, recipientID int64, note string) error {
	if note == "" {
		note = "-"
	}
	_, err := tx.Exec(`
		INSERT INTO deliveries (recipient_id, created_at, details)
		VALUES (?, ?, ?)`,
		recipientID, time.Now().UTC(), note,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

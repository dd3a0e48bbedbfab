package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/lanes/internal/models"
)

type ListRepository struct {
	db *sql.DB
}

func NewListRepository(db *sql.DB) *ListRepository {
	return &ListRepository{db: db}
}

// Create validates the configuration document and inserts the list. The
// stop and confirm flags are mirrored into their own columns for the
// selection queries.
func (r *ListRepository) Create(list *models.List) error {
	doc, err := list.Config.Marshal()
	if err != nil {
		return err
	}
	list.CreatedAt = time.Now().UTC()

	res, err := r.db.Exec(`
		INSERT INTO lists (owner, title, stop, confirm, config, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		list.Owner, list.Title, list.Config.Stop, list.Config.ConfirmationRequired, doc, list.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create list: %w", err)
	}
	list.ID, err = res.LastInsertId()
	return err
}

// GetByID returns a list by ID, or nil when it does not exist.
func (r *ListRepository) GetByID(id int64) (*models.List, error) {
	var (
		list models.List
		doc  string
	)
	err := r.db.QueryRow(`
		SELECT id, owner, title, config, created_at
		FROM lists WHERE id = ?`, id,
	).Scan(&list.ID, &list.Owner, &list.Title, &doc, &list.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if list.Config, err = models.ParseListConfig(doc); err != nil {
		return nil, err
	}
	return &list, nil
}

// ListByOwner returns all lists of one owner.
func (r *ListRepository) ListByOwner(owner string) ([]models.List, error) {
	rows, err := r.db.Query(`
		SELECT id, owner, title, config, created_at
		FROM lists WHERE owner = ? ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lists := []models.List{}
	for rows.Next() {
		var (
			list models.List
			doc  string
		)
		if err := rows.Scan(&list.ID, &list.Owner, &list.Title, &doc, &list.CreatedAt); err != nil {
			return nil, err
		}
		if list.Config, err = models.ParseListConfig(doc); err != nil {
			return nil, err
		}
		lists = append(lists, list)
	}
	return lists, rows.Err()
}

// UpdateConfig replaces the configuration document and re-mirrors the
// stop and confirm columns.
func (r *ListRepository) UpdateConfig(id int64, cfg models.ListConfig) error {
	doc, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`UPDATE lists SET config = ?, stop = ?, confirm = ? WHERE id = ?`,
		doc, cfg.Stop, cfg.ConfirmationRequired, id)
	return err
}

// BounceRate returns bounced sends divided by total sends across the
// list's recipients. A list with no sends has a rate of zero.
func (r *ListRepository) BounceRate(listID int64) (float64, error) {
	var total, bounced int
	err := r.db.QueryRow(`
		SELECT COUNT(*), COUNT(deliveries.bounced)
		FROM deliveries
		JOIN recipients ON recipients.id = deliveries.recipient_id
		WHERE recipients.list_id = ?`, listID,
	).Scan(&total, &bounced)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(bounced) / float64(total), nil
}

package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/lanes/internal/models"
	"gopkg.in/yaml.v3"
)

type LetterRepository struct {
	db *sql.DB
}

func NewLetterRepository(db *sql.DB) *LetterRepository {
	return &LetterRepository{db: db}
}

// Create validates the configuration document and appends the letter to
// the end of its lane. Place assignment and insertion share one
// transaction so concurrent creates cannot collide on the unique
// (lane, place) pair.
func (r *LetterRepository) Create(letter *models.Letter) error {
	doc, err := yaml.Marshal(letter.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal letter config: %w", err)
	}
	if _, err := models.ParseLetterConfig(string(doc)); err != nil {
		return err
	}
	letter.Speed = letter.Config.EffectiveSpeed()
	letter.CreatedAt = time.Now().UTC()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.QueryRow(`
		SELECT COALESCE(MAX(place), 0) + 1 FROM letters WHERE lane_id = ?`,
		letter.LaneID,
	).Scan(&letter.Place); err != nil {
		return err
	}

	res, err := tx.Exec(`
		INSERT INTO letters (lane_id, title, place, active, speed, config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		letter.LaneID, letter.Title, letter.Place, letter.Active, letter.Speed, string(doc), letter.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create letter: %w", err)
	}
	if letter.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *LetterRepository) GetByID(id int64) (*models.Letter, error) {
	row := r.db.QueryRow(`
		SELECT id, lane_id, title, place, active, speed, config, created_at
		FROM letters WHERE id = ?`, id)
	letter, err := scanLetter(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return letter, err
}

// Active returns all active letters, for the lifecycle sweeps.
func (r *LetterRepository) Active() ([]models.Letter, error) {
	rows, err := r.db.Query(`
		SELECT id, lane_id, title, place, active, speed, config, created_at
		FROM letters WHERE active = 1 ORDER BY lane_id, place`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	letters := []models.Letter{}
	for rows.Next() {
		letter, err := scanLetter(rows.Scan)
		if err != nil {
			return nil, err
		}
		letters = append(letters, *letter)
	}
	return letters, rows.Err()
}

// Deactivate flips the letter inactive.
func (r *LetterRepository) Deactivate(id int64) error {
	_, err := r.db.Exec(`UPDATE letters SET active = 0 WHERE id = ?`, id)
	return err
}

// UpdateConfig replaces the configuration document and re-mirrors the
// speed column.
func (r *LetterRepository) UpdateConfig(id int64, cfg models.LetterConfig) error {
	doc, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal letter config: %w", err)
	}
	if _, err := models.ParseLetterConfig(string(doc)); err != nil {
		return err
	}
	_, err = r.db.Exec(`UPDATE letters SET config = ?, speed = ? WHERE id = ?`,
		string(doc), cfg.EffectiveSpeed(), id)
	return err
}

func scanLetter(scan func(...any) error) (*models.Letter, error) {
	var (
		letter models.Letter
		doc    string
	)
	err := scan(&letter.ID, &letter.LaneID, &letter.Title, &letter.Place,
		&letter.Active, &letter.Speed, &doc, &letter.CreatedAt)
	if err != nil {
		return nil, err
	}
	if letter.Config, err = models.ParseLetterConfig(doc); err != nil {
		return nil, err
	}
	return &letter, nil
}

package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/lanes/internal/models"
	"gopkg.in/yaml.v3"
)

type LaneRepository struct {
	db *sql.DB
}

func NewLaneRepository(db *sql.DB) *LaneRepository {
	return &LaneRepository{db: db}
}

func (r *LaneRepository) Create(lane *models.Lane) error {
	doc, err := yaml.Marshal(lane.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal lane config: %w", err)
	}
	lane.CreatedAt = time.Now().UTC()

	res, err := r.db.Exec(`
		INSERT INTO lanes (owner, title, config, created_at)
		VALUES (?, ?, ?, ?)`,
		lane.Owner, lane.Title, string(doc), lane.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create lane: %w", err)
	}
	lane.ID, err = res.LastInsertId()
	return err
}

func (r *LaneRepository) GetByID(id int64) (*models.Lane, error) {
	var (
		lane models.Lane
		doc  string
	)
	err := r.db.QueryRow(`
		SELECT id, owner, title, config, created_at
		FROM lanes WHERE id = ?`, id,
	).Scan(&lane.ID, &lane.Owner, &lane.Title, &doc, &lane.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lane.Config, err = models.ParseLaneConfig(doc); err != nil {
		return nil, err
	}
	return &lane, nil
}

func (r *LaneRepository) UpdateConfig(id int64, cfg models.LaneConfig) error {
	doc, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal lane config: %w", err)
	}
	_, err = r.db.Exec(`UPDATE lanes SET config = ? WHERE id = ?`, string(doc), id)
	return err
}

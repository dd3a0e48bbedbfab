package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/lanes/internal/models"
	"gopkg.in/yaml.v3"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create validates the configuration document and inserts the campaign.
// The speed cap is mirrored into its own column for the selection query.
func (r *CampaignRepository) Create(c *models.Campaign) error {
	doc, err := yaml.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign config: %w", err)
	}
	if _, err := models.ParseCampaignConfig(string(doc)); err != nil {
		return err
	}
	c.Speed = c.Config.EffectiveSpeed()
	c.CreatedAt = time.Now().UTC()

	res, err := r.db.Exec(`
		INSERT INTO campaigns (owner, lane_id, title, active, speed, config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Owner, c.LaneID, c.Title, c.Active, c.Speed, string(doc), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (r *CampaignRepository) GetByID(id int64) (*models.Campaign, error) {
	row := r.db.QueryRow(`
		SELECT id, owner, lane_id, title, active, speed, exhausted, config, created_at
		FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// Active returns all active campaigns, for the lifecycle sweeps.
func (r *CampaignRepository) Active() ([]models.Campaign, error) {
	rows, err := r.db.Query(`
		SELECT id, owner, lane_id, title, active, speed, exhausted, config, created_at
		FROM campaigns WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows.Scan)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// ForLane returns all campaigns referencing the lane, for deactivation
// notifications.
func (r *CampaignRepository) ForLane(laneID int64) ([]models.Campaign, error) {
	rows, err := r.db.Query(`
		SELECT id, owner, lane_id, title, active, speed, exhausted, config, created_at
		FROM campaigns WHERE lane_id = ? ORDER BY id`, laneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows.Scan)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// AddSource binds a list to the campaign. Adding the same list twice is
// a no-op.
func (r *CampaignRepository) AddSource(campaignID, listID int64) error {
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO sources (campaign_id, list_id) VALUES (?, ?)`,
		campaignID, listID)
	return err
}

// Deactivate flips the campaign inactive.
func (r *CampaignRepository) Deactivate(id int64) error {
	_, err := r.db.Exec(`UPDATE campaigns SET active = 0 WHERE id = ?`, id)
	return err
}

// SetExhausted writes or clears the exhausted marker. The marker is a
// derived cache and safe to recompute at any time.
func (r *CampaignRepository) SetExhausted(id int64, at *time.Time) error {
	_, err := r.db.Exec(`UPDATE campaigns SET exhausted = ? WHERE id = ?`, at, id)
	return err
}

func scanCampaign(scan func(...any) error) (*models.Campaign, error) {
	var (
		c         models.Campaign
		doc       string
		exhausted sql.NullTime
	)
	err := scan(&c.ID, &c.Owner, &c.LaneID, &c.Title, &c.Active, &c.Speed,
		&exhausted, &doc, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if exhausted.Valid {
		t := exhausted.Time
		c.Exhausted = &t
	}
	if c.Config, err = models.ParseCampaignConfig(doc); err != nil {
		return nil, err
	}
	return &c, nil
}

package pipeline

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/lanes/internal/models"
	"github.com/foxzi/lanes/internal/repository"
)

// graceAge is how old a recipient must be before it becomes eligible,
// unless its address belongs to the internal test domain.
const graceAge = 10 * time.Minute

// speedWindow is the sliding window the throughput caps are counted
// over. Counts are recomputed from the ledger at selection time, so
// there is no counter state to drift or repair after a crash.
const speedWindow = 24 * time.Hour

// Candidate is one legal next send: the winning (recipient, campaign,
// letter) triple plus the list the recipient was matched through.
type Candidate struct {
	Recipient models.Recipient
	Campaign  models.Campaign
	Letter    models.Letter
	List      models.List
}

// Selector computes eligible candidates straight from the store. It
// yields at most one tuple per recipient per call; consumers pull one at
// a time and re-query after recording a delivery.
type Selector struct {
	db         *sql.DB
	recipients *repository.RecipientRepository
	campaigns  *repository.CampaignRepository
	letters    *repository.LetterRepository
	lists      *repository.ListRepository
	testDomain string
}

func NewSelector(db *sql.DB, testDomain string) *Selector {
	return &Selector{
		db:         db,
		recipients: repository.NewRecipientRepository(db),
		campaigns:  repository.NewCampaignRepository(db),
		letters:    repository.NewLetterRepository(db),
		lists:      repository.NewListRepository(db),
		testDomain: testDomain,
	}
}

// Next returns the next eligible candidate across all campaigns, or nil
// when the queue is drained.
func (s *Selector) Next() (*Candidate, error) {
	return s.query(0)
}

// NextForCampaign restricts selection to one campaign. This mode uses
// the stricter relax check (any recorded relax value blocks the pair)
// and skips the per-letter speed cap; it backs active queue draining and
// the exhaustion sweep.
func (s *Selector) NextForCampaign(campaignID int64) (*Candidate, error) {
	return s.query(campaignID)
}

func (s *Selector) query(campaignID int64) (*Candidate, error) {
	now := time.Now().UTC()
	windowStart := now.Add(-speedWindow)

	// The MIN(letters.place) aggregate makes SQLite report the bare
	// letter column from the lane's earliest not-yet-sent letter.
	query := `
		SELECT recipients.id, campaigns.id, letters.id, lists.id, MIN(letters.place)
		FROM recipients
		JOIN lists ON lists.id = recipients.list_id
		JOIN sources ON sources.list_id = lists.id
		JOIN campaigns ON campaigns.id = sources.campaign_id
		JOIN letters ON letters.lane_id = campaigns.lane_id
		WHERE lists.stop = 0
		  AND campaigns.active = 1
		  AND letters.active = 1
		  AND recipients.active = 1
		  AND (lists.confirm = 0 OR recipients.confirmed = 1)
		  AND (recipients.created_at < ? OR recipients.email LIKE ?)
		  AND NOT EXISTS (
		    SELECT 1 FROM deliveries d
		    WHERE d.recipient_id = recipients.id
		      AND d.campaign_id = campaigns.id
		      AND d.letter_id = letters.id)
		  AND NOT EXISTS (
		    SELECT 1 FROM recipients other
		    JOIN lists stops ON stops.id = other.list_id
		    WHERE other.email = recipients.email
		      AND other.id != recipients.id
		      AND other.active = 1
		      AND stops.stop = 1
		      AND stops.owner = lists.owner)
		  AND (SELECT COUNT(*) FROM deliveries d
		       WHERE d.campaign_id = campaigns.id AND d.created_at > ?) < campaigns.speed`

	args := []any{now.Add(-graceAge), "%@" + s.testDomain, windowStart}

	if campaignID > 0 {
		query += `
		  AND campaigns.id = ?
		  AND NOT EXISTS (
		    SELECT 1 FROM deliveries d
		    WHERE d.recipient_id = recipients.id
		      AND d.campaign_id = campaigns.id
		      AND d.relax IS NOT NULL)`
		args = append(args, campaignID)
	} else {
		query += `
		  AND NOT EXISTS (
		    SELECT 1 FROM deliveries d
		    WHERE d.recipient_id = recipients.id
		      AND d.campaign_id = campaigns.id
		      AND d.relax IS NOT NULL
		      AND d.relax > ?)
		  AND (SELECT COUNT(*) FROM deliveries d
		       WHERE d.letter_id = letters.id AND d.created_at > ?) < letters.speed`
		args = append(args, now, windowStart)
	}

	query += `
		GROUP BY recipients.id
		LIMIT 1`

	var recipientID, cID, letterID, listID int64
	var place int
	err := s.db.QueryRow(query, args...).Scan(&recipientID, &cID, &letterID, &listID, &place)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("candidate query failed: %w", err)
	}

	return s.hydrate(recipientID, cID, letterID, listID)
}

func (s *Selector) hydrate(recipientID, campaignID, letterID, listID int64) (*Candidate, error) {
	rec, err := s.recipients.GetByID(recipientID)
	if err != nil {
		return nil, err
	}
	campaign, err := s.campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	letter, err := s.letters.GetByID(letterID)
	if err != nil {
		return nil, err
	}
	list, err := s.lists.GetByID(listID)
	if err != nil {
		return nil, err
	}
	if rec == nil || campaign == nil || letter == nil || list == nil {
		return nil, fmt.Errorf("candidate row vanished during hydration")
	}
	return &Candidate{Recipient: *rec, Campaign: *campaign, Letter: *letter, List: *list}, nil
}

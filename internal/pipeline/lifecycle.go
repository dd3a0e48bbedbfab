package pipeline

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/lanes/internal/metrics"
	"github.com/foxzi/lanes/internal/models"
	"github.com/foxzi/lanes/internal/notify"
	"github.com/foxzi/lanes/internal/repository"
)

// Lifecycle runs the periodic campaign and letter state sweeps. It
// shares the tick cadence with the pipeline but is logically
// independent of it.
type Lifecycle struct {
	selector  *Selector
	letters   *repository.LetterRepository
	campaigns *repository.CampaignRepository
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewLifecycle(db *sql.DB, sel *Selector, notifier notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		selector:  sel,
		letters:   repository.NewLetterRepository(db),
		campaigns: repository.NewCampaignRepository(db),
		notifier:  notifier,
		metrics:   m,
		logger:    logger.With("component", "lifecycle"),
	}
}

// DeactivateExpired flips letters and campaigns whose until date has
// passed. Each deactivated letter is announced once per campaign
// referencing its lane.
func (l *Lifecycle) DeactivateExpired() {
	now := time.Now().UTC()

	letters, err := l.letters.Active()
	if err != nil {
		l.logger.Error("failed to load active letters", "error", err)
		return
	}
	for _, letter := range letters {
		if !expired(letter.Config.Until, now) {
			continue
		}
		if err := l.letters.Deactivate(letter.ID); err != nil {
			l.logger.Error("failed to deactivate letter", "letter", letter.ID, "error", err)
			continue
		}
		l.metrics.LettersDeactivated.Inc()
		l.logger.Info("letter deactivated past its until date", "letter", letter.ID, "until", letter.Config.Until)

		campaigns, err := l.campaigns.ForLane(letter.LaneID)
		if err != nil {
			l.logger.Error("failed to load campaigns for lane", "lane", letter.LaneID, "error", err)
			continue
		}
		for _, c := range campaigns {
			l.notifier.Notify("letter.deactivated", c.Config.Notify,
				fmt.Sprintf("Letter #%d %q of lane #%d is past its until date and was deactivated", letter.ID, letter.Title, letter.LaneID))
		}
	}

	campaigns, err := l.campaigns.Active()
	if err != nil {
		l.logger.Error("failed to load active campaigns", "error", err)
		return
	}
	for _, c := range campaigns {
		if !expired(c.Config.Until, now) {
			continue
		}
		if err := l.campaigns.Deactivate(c.ID); err != nil {
			l.logger.Error("failed to deactivate campaign", "campaign", c.ID, "error", err)
			continue
		}
		l.logger.Info("campaign deactivated past its until date", "campaign", c.ID, "until", c.Config.Until)
		l.notifier.Notify("campaign.deactivated", c.Config.Notify,
			fmt.Sprintf("Campaign #%d %q is past its until date and was deactivated", c.ID, c.Title))
	}
}

// ReconcileExhausted recomputes the exhausted marker of every active
// campaign from its candidate queue. The marker is a derived cache, safe
// to rebuild from scratch on every sweep.
func (l *Lifecycle) ReconcileExhausted() {
	campaigns, err := l.campaigns.Active()
	if err != nil {
		l.logger.Error("failed to load active campaigns", "error", err)
		return
	}
	for _, c := range campaigns {
		cand, err := l.selector.NextForCampaign(c.ID)
		if err != nil {
			l.logger.Error("exhaustion probe failed", "campaign", c.ID, "error", err)
			continue
		}
		switch {
		case cand != nil && c.Exhausted != nil:
			if err := l.campaigns.SetExhausted(c.ID, nil); err != nil {
				l.logger.Error("failed to clear exhausted marker", "campaign", c.ID, "error", err)
				continue
			}
			l.logger.Info("campaign has candidates again", "campaign", c.ID)
			l.notifier.Notify("campaign.refilled", c.Config.Notify,
				fmt.Sprintf("Campaign #%d %q has eligible recipients again", c.ID, c.Title))
		case cand == nil && c.Exhausted == nil:
			now := time.Now().UTC()
			if err := l.campaigns.SetExhausted(c.ID, &now); err != nil {
				l.logger.Error("failed to set exhausted marker", "campaign", c.ID, "error", err)
				continue
			}
			l.metrics.CampaignsExhausted.Inc()
			l.logger.Info("campaign exhausted", "campaign", c.ID)
			l.notifier.Notify("campaign.exhausted", c.Config.Notify,
				fmt.Sprintf("Campaign #%d %q has no eligible recipients left", c.ID, c.Title))
		}
	}
}

func expired(until string, now time.Time) bool {
	if until == "" {
		return false
	}
	date, err := models.ParseUntil(until)
	if err != nil {
		// Config documents are validated at write time; an unparsable
		// until here means the row predates validation. Leave it alone.
		return false
	}
	return date.Before(now)
}

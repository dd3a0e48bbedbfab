package pipeline

import (
	"sync"
	"testing"

	"github.com/foxzi/lanes/internal/metrics"
	"github.com/foxzi/lanes/internal/models"
	"github.com/foxzi/lanes/internal/repository"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(event string, target models.NotifyConfig, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}

func newTestLifecycle(t *testing.T, w *world, notifier *recordingNotifier) *Lifecycle {
	t.Helper()
	sel := NewSelector(w.conn, testDomain)
	return NewLifecycle(w.conn, sel, notifier, metrics.New(), discardLogger())
}

func TestLifecycleDeactivatesExpiredLetter(t *testing.T) {
	conn := setupTestDB(t)
	w := seedWorld(t, conn)
	expiredLetter := w.addLetter(t, models.LetterConfig{Until: "2000-01-01"})
	notifier := &recordingNotifier{}
	l := newTestLifecycle(t, w, notifier)

	l.DeactivateExpired()

	letters, err := repository.NewLetterRepository(conn).Active()
	if err != nil {
		t.Fatalf("failed to list letters: %v", err)
	}
	for _, letter := range letters {
		if letter.ID == expiredLetter.ID {
			t.Error("expired letter still active")
		}
	}
	if len(letters) != 1 || letters[0].ID != w.letter.ID {
		t.Errorf("the undated letter should stay active, got %+v", letters)
	}
	if n := notifier.count("letter.deactivated"); n != 1 {
		t.Errorf("letter.deactivated notifications = %d, want one per campaign of the lane", n)
	}
}

func TestLifecycleDeactivatesExpiredCampaign(t *testing.T) {
	conn := setupTestDB(t)
	w := seedWorld(t, conn)
	if _, err := conn.Exec(`UPDATE campaigns SET config = ? WHERE id = ?`,
		"until: 2000-01-01\n", w.campaign.ID); err != nil {
		t.Fatalf("failed to date campaign: %v", err)
	}
	notifier := &recordingNotifier{}
	l := newTestLifecycle(t, w, notifier)

	l.DeactivateExpired()

	got, err := repository.NewCampaignRepository(conn).GetByID(w.campaign.ID)
	if err != nil {
		t.Fatalf("failed to load campaign: %v", err)
	}
	if got.Active {
		t.Error("expired campaign still active")
	}
	if n := notifier.count("campaign.deactivated"); n != 1 {
		t.Errorf("campaign.deactivated notifications = %d, want 1", n)
	}
}

func TestLifecycleReconcileExhausted(t *testing.T) {
	conn := setupTestDB(t)
	w := seedWorld(t, conn)
	notifier := &recordingNotifier{}
	l := newTestLifecycle(t, w, notifier)
	campaigns := repository.NewCampaignRepository(conn)

	// No recipients yet, so the campaign's queue is empty.
	l.ReconcileExhausted()

	got, err := campaigns.GetByID(w.campaign.ID)
	if err != nil {
		t.Fatalf("failed to load campaign: %v", err)
	}
	if got.Exhausted == nil {
		t.Fatal("exhausted marker not set")
	}
	if n := notifier.count("campaign.exhausted"); n != 1 {
		t.Errorf("campaign.exhausted notifications = %d, want 1", n)
	}

	// A marked campaign is not re-announced.
	l.ReconcileExhausted()
	if n := notifier.count("campaign.exhausted"); n != 1 {
		t.Errorf("campaign.exhausted notifications after re-sweep = %d, want 1", n)
	}

	// New eligible recipients clear the marker.
	w.addRecipient(t, "ann@"+testDomain)
	l.ReconcileExhausted()

	got, err = campaigns.GetByID(w.campaign.ID)
	if err != nil {
		t.Fatalf("failed to load campaign: %v", err)
	}
	if got.Exhausted != nil {
		t.Errorf("exhausted marker not cleared: %v", got.Exhausted)
	}
	if n := notifier.count("campaign.refilled"); n != 1 {
		t.Errorf("campaign.refilled notifications = %d, want 1", n)
	}
}

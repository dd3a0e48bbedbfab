package repository

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/foxzi/lanes/internal/db"
	"github.com/foxzi/lanes/internal/models"
)

// setupTestDB creates a file-backed SQLite database with all migrations
// applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return database.DB
}

func seedList(t *testing.T, conn *sql.DB, owner string, cfg models.ListConfig) *models.List {
	t.Helper()
	list := &models.List{Owner: owner, Title: "list of " + owner, Config: cfg}
	if err := NewListRepository(conn).Create(list); err != nil {
		t.Fatalf("failed to seed list: %v", err)
	}
	return list
}

func seedRecipient(t *testing.T, conn *sql.DB, listID int64, email string) *models.Recipient {
	t.Helper()
	rec := &models.Recipient{ListID: listID, Email: email, Active: true}
	if err := NewRecipientRepository(conn).Create(rec); err != nil {
		t.Fatalf("failed to seed recipient: %v", err)
	}
	return rec
}

func seedLane(t *testing.T, conn *sql.DB, owner string) *models.Lane {
	t.Helper()
	lane := &models.Lane{Owner: owner, Title: "lane of " + owner}
	if err := NewLaneRepository(conn).Create(lane); err != nil {
		t.Fatalf("failed to seed lane: %v", err)
	}
	return lane
}

func TestListCreateMirrorsStop(t *testing.T) {
	conn := setupTestDB(t)

	list := seedList(t, conn, "alice", models.ListConfig{Stop: true})

	var stop bool
	if err := conn.QueryRow(`SELECT stop FROM lists WHERE id = ?`, list.ID).Scan(&stop); err != nil {
		t.Fatalf("failed to read stop column: %v", err)
	}
	if !stop {
		t.Error("stop flag was not mirrored into its column")
	}

	got, err := NewListRepository(conn).GetByID(list.ID)
	if err != nil {
		t.Fatalf("failed to load list: %v", err)
	}
	if got == nil || !got.Config.Stop {
		t.Errorf("loaded list config lost the stop flag: %+v", got)
	}
}

func TestListUpdateConfig(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewListRepository(conn)

	list := seedList(t, conn, "alice", models.ListConfig{})
	if err := repo.UpdateConfig(list.ID, models.ListConfig{Stop: true, Friends: []string{"bob"}}); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	var stop bool
	if err := conn.QueryRow(`SELECT stop FROM lists WHERE id = ?`, list.ID).Scan(&stop); err != nil {
		t.Fatalf("failed to read stop column: %v", err)
	}
	if !stop {
		t.Error("update did not re-mirror the stop column")
	}

	got, err := repo.GetByID(list.ID)
	if err != nil {
		t.Fatalf("failed to load list: %v", err)
	}
	if len(got.Config.Friends) != 1 || got.Config.Friends[0] != "bob" {
		t.Errorf("unexpected friends: %+v", got.Config.Friends)
	}
}

func TestListCreateMirrorsConfirm(t *testing.T) {
	conn := setupTestDB(t)

	list := seedList(t, conn, "alice", models.ListConfig{ConfirmationRequired: true})

	var confirm bool
	if err := conn.QueryRow(`SELECT confirm FROM lists WHERE id = ?`, list.ID).Scan(&confirm); err != nil {
		t.Fatalf("failed to read confirm column: %v", err)
	}
	if !confirm {
		t.Error("confirmation flag was not mirrored into its column")
	}
}

func TestListGetMissing(t *testing.T) {
	conn := setupTestDB(t)

	got, err := NewListRepository(conn).GetByID(9999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for a missing list, got %+v", got)
	}
}

func TestListBounceRate(t *testing.T) {
	conn := setupTestDB(t)
	lists := NewListRepository(conn)
	deliveries := NewDeliveryRepository(conn)

	list := seedList(t, conn, "alice", models.ListConfig{})

	rate, err := lists.BounceRate(list.ID)
	if err != nil {
		t.Fatalf("failed to compute rate: %v", err)
	}
	if rate != 0 {
		t.Errorf("rate of an idle list = %v, want 0", rate)
	}

	rec := seedRecipient(t, conn, list.ID, "a@example.com")
	var lastID int64
	for i := 0; i < 4; i++ {
		d, err := deliveries.CreateEvent(rec.ID, nil, "sent")
		if err != nil {
			t.Fatalf("failed to record delivery: %v", err)
		}
		lastID = d.ID
	}
	if err := deliveries.MarkBounced(lastID); err != nil {
		t.Fatalf("failed to mark bounce: %v", err)
	}

	rate, err = lists.BounceRate(list.ID)
	if err != nil {
		t.Fatalf("failed to compute rate: %v", err)
	}
	if rate != 0.25 {
		t.Errorf("rate = %v, want 0.25", rate)
	}
}

func TestRecipientCreateValidatesEmail(t *testing.T) {
	conn := setupTestDB(t)
	list := seedList(t, conn, "alice", models.ListConfig{})

	rec := &models.Recipient{ListID: list.ID, Email: "not-an-address", Active: true}
	if err := NewRecipientRepository(conn).Create(rec); err == nil {
		t.Fatal("expected error for an invalid address")
	}
}

func TestRecipientCreateExclusiveList(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewRecipientRepository(conn)

	list := seedList(t, conn, "alice", models.ListConfig{Exclusive: true})
	first := seedRecipient(t, conn, list.ID, "a@example.com")

	dup := &models.Recipient{ListID: list.ID, Email: "a@example.com", Active: true}
	if err := repo.Create(dup); err == nil {
		t.Fatal("expected error for an active duplicate on an exclusive list")
	}

	// An inactive duplicate does not block.
	if err := repo.Deactivate(first.ID); err != nil {
		t.Fatalf("failed to deactivate: %v", err)
	}
	if err := repo.Create(dup); err != nil {
		t.Fatalf("inactive duplicate should not block: %v", err)
	}

	// Non-exclusive lists accept duplicates freely.
	open := seedList(t, conn, "alice", models.ListConfig{})
	seedRecipient(t, conn, open.ID, "b@example.com")
	seedRecipient(t, conn, open.ID, "b@example.com")
}

func TestRecipientToggleRecordsEvent(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewRecipientRepository(conn)

	list := seedList(t, conn, "alice", models.ListConfig{})
	rec := seedRecipient(t, conn, list.ID, "a@example.com")

	if err := repo.Toggle(rec.ID, "paused by owner"); err != nil {
		t.Fatalf("failed to toggle: %v", err)
	}

	got, err := repo.GetByID(rec.ID)
	if err != nil {
		t.Fatalf("failed to load recipient: %v", err)
	}
	if got.Active {
		t.Error("toggle did not flip the active flag")
	}

	d, err := NewDeliveryRepository(conn).LatestForRecipient(rec.ID)
	if err != nil {
		t.Fatalf("failed to load event: %v", err)
	}
	if d == nil || d.Details != "paused by owner" {
		t.Errorf("unexpected event: %+v", d)
	}
	if d.Pending() {
		t.Error("event delivery must be created already closed")
	}
	if d.CampaignID != nil || d.LetterID != nil {
		t.Error("event delivery must not reference a campaign or letter")
	}
}

func TestRecipientMove(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewRecipientRepository(conn)

	src := seedList(t, conn, "alice", models.ListConfig{})
	dst := seedList(t, conn, "bob", models.ListConfig{})
	rec := seedRecipient(t, conn, src.ID, "a@example.com")

	if err := repo.Move(rec.ID, dst.ID, "handover to bob"); err != nil {
		t.Fatalf("failed to move: %v", err)
	}

	got, err := repo.GetByID(rec.ID)
	if err != nil {
		t.Fatalf("failed to load recipient: %v", err)
	}
	if got.ListID != dst.ID {
		t.Errorf("recipient list = %d, want %d", got.ListID, dst.ID)
	}

	d, err := NewDeliveryRepository(conn).LatestForRecipient(rec.ID)
	if err != nil {
		t.Fatalf("failed to load event: %v", err)
	}
	if d == nil || d.Details != "handover to bob" {
		t.Errorf("unexpected event: %+v", d)
	}
}

func TestRecipientCommentDefaultsNote(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewRecipientRepository(conn)

	list := seedList(t, conn, "alice", models.ListConfig{})
	rec := seedRecipient(t, conn, list.ID, "a@example.com")

	if err := repo.Comment(rec.ID, ""); err != nil {
		t.Fatalf("failed to comment: %v", err)
	}

	d, err := NewDeliveryRepository(conn).LatestForRecipient(rec.ID)
	if err != nil {
		t.Fatalf("failed to load event: %v", err)
	}
	if d == nil || d.Details != "-" {
		t.Errorf("empty note should be stored as %q, got %+v", "-", d)
	}
}

func TestRecipientDeleteCascades(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewRecipientRepository(conn)

	list := seedList(t, conn, "alice", models.ListConfig{})
	rec := seedRecipient(t, conn, list.ID, "a@example.com")
	if err := repo.Comment(rec.ID, "note"); err != nil {
		t.Fatalf("failed to comment: %v", err)
	}

	if err := repo.Delete(rec.ID); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM deliveries WHERE recipient_id = ?`, rec.ID).Scan(&n); err != nil {
		t.Fatalf("failed to count deliveries: %v", err)
	}
	if n != 0 {
		t.Errorf("expected cascade to remove deliveries, %d left", n)
	}
}

func TestRecipientConfirm(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewRecipientRepository(conn)

	list := seedList(t, conn, "alice", models.ListConfig{})
	rec := seedRecipient(t, conn, list.ID, "a@example.com")

	if err := repo.Confirm(rec.ID); err != nil {
		t.Fatalf("failed to confirm: %v", err)
	}
	got, err := repo.GetByID(rec.ID)
	if err != nil {
		t.Fatalf("failed to load recipient: %v", err)
	}
	if !got.Confirmed {
		t.Error("recipient was not confirmed")
	}
}

func TestLaneCreateAndUpdateConfig(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewLaneRepository(conn)

	lane := seedLane(t, conn, "alice")
	cfg := models.LaneConfig{Transport: models.TransportSMTP, From: "news@example.com"}
	if err := repo.UpdateConfig(lane.ID, cfg); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	got, err := repo.GetByID(lane.ID)
	if err != nil {
		t.Fatalf("failed to load lane: %v", err)
	}
	if got.Config.From != "news@example.com" || got.Config.Transport != models.TransportSMTP {
		t.Errorf("unexpected lane config: %+v", got.Config)
	}
}

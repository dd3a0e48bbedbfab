package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/lanes/internal/metrics"
	"github.com/foxzi/lanes/internal/models"
	"github.com/foxzi/lanes/internal/repository"
	"github.com/foxzi/lanes/internal/token"
	"github.com/foxzi/lanes/internal/transport"
)

type stubTransport struct {
	jobs []*transport.Job
	err  error
}

func (s *stubTransport) Send(ctx context.Context, job *transport.Job) (string, error) {
	s.jobs = append(s.jobs, job)
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("delivered to %s", job.Recipient.Email), nil
}

func newTestPipeline(t *testing.T, w *world, stub *stubTransport) *Pipeline {
	t.Helper()
	codec, err := token.NewCodec("test-secret")
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	sel := NewSelector(w.conn, testDomain)
	return New(w.conn, sel, stub, codec, metrics.New(), discardLogger(), 10)
}

func TestPipelineFetch(t *testing.T) {
	conn := setupTestDB(t)
	w := seedWorld(t, conn)
	rec := w.addRecipient(t, "ann@"+testDomain)
	stub := &stubTransport{}
	p := newTestPipeline(t, w, stub)

	if got := p.Fetch(context.Background()); got != 1 {
		t.Fatalf("Fetch = %d, want 1", got)
	}
	if len(stub.jobs) != 1 {
		t.Fatalf("transport received %d jobs, want 1", len(stub.jobs))
	}
	job := stub.jobs[0]
	if job.Recipient.ID != rec.ID || job.Kind != models.TransportSMTP {
		t.Errorf("unexpected job: %+v", job)
	}
	if job.Subject != "Welcome Ann" {
		t.Errorf("subject = %q, want the rendered template", job.Subject)
	}
	if job.Body != "Hello Ann Lee" {
		t.Errorf("body = %q, want the rendered template", job.Body)
	}
	if job.Token == "" {
		t.Error("job carries no recipient token")
	}

	d, err := repository.NewDeliveryRepository(conn).LatestForRecipient(rec.ID)
	if err != nil {
		t.Fatalf("failed to load delivery: %v", err)
	}
	if d == nil || d.Pending() {
		t.Fatalf("delivery not closed: %+v", d)
	}
	if d.Details != "delivered to ann@"+testDomain {
		t.Errorf("details = %q", d.Details)
	}

	// The triple is settled, so the next tick finds nothing.
	if got := p.Fetch(context.Background()); got != 0 {
		t.Errorf("second Fetch = %d, want 0", got)
	}
}

func TestPipelineFetchClosesOnSendFailure(t *testing.T) {
	conn := setupTestDB(t)
	w := seedWorld(t, conn)
	rec := w.addRecipient(t, "ann@"+testDomain)
	stub := &stubTransport{err: errors.New("smtp: connection refused")}
	p := newTestPipeline(t, w, stub)

	if got := p.Fetch(context.Background()); got != 1 {
		t.Fatalf("Fetch = %d, want 1", got)
	}

	d, err := repository.NewDeliveryRepository(conn).LatestForRecipient(rec.ID)
	if err != nil {
		t.Fatalf("failed to load delivery: %v", err)
	}
	if d == nil || d.Pending() {
		t.Fatalf("failed delivery not closed: %+v", d)
	}
	if d.Details != "smtp: connection refused" {
		t.Errorf("details = %q, want the failure text", d.Details)
	}

	// Sends are single-attempt: the failed triple stays settled.
	if got := p.Fetch(context.Background()); got != 0 {
		t.Errorf("Fetch after failure = %d, want 0", got)
	}
}

func TestPipelineFetchPersistsRelax(t *testing.T) {
	conn := setupTestDB(t)
	w := seedWorld(t, conn)
	if err := repository.NewLetterRepository(conn).UpdateConfig(w.letter.ID,
		models.LetterConfig{Subject: "Welcome", Relax: "1:0:0"}); err != nil {
		t.Fatalf("failed to update letter: %v", err)
	}
	rec := w.addRecipient(t, "ann@"+testDomain)
	p := newTestPipeline(t, w, &stubTransport{})

	before := time.Now().UTC()
	if got := p.Fetch(context.Background()); got != 1 {
		t.Fatalf("Fetch = %d, want 1", got)
	}

	d, err := repository.NewDeliveryRepository(conn).LatestForRecipient(rec.ID)
	if err != nil {
		t.Fatalf("failed to load delivery: %v", err)
	}
	if d.Relax == nil {
		t.Fatal("cooldown was not persisted with the delivery")
	}
	want := before.Add(24 * time.Hour)
	if d.Relax.Before(want.Add(-time.Minute)) || d.Relax.After(want.Add(time.Minute)) {
		t.Errorf("relax = %v, want about %v", d.Relax, want)
	}
}

func TestPipelineFetchReclaimsStale(t *testing.T) {
	conn := setupTestDB(t)
	w := seedWorld(t, conn)
	rec := w.addRecipient(t, "ann@"+testDomain)
	p := newTestPipeline(t, w, &stubTransport{})

	old := time.Now().UTC().Add(-2 * staleAge)
	if _, err := conn.Exec(`
		INSERT INTO deliveries (recipient_id, created_at, details) VALUES (?, ?, '')`,
		rec.ID, old); err != nil {
		t.Fatalf("failed to insert stale pending delivery: %v", err)
	}

	p.Fetch(context.Background())

	if got := p.Status().Reclaimed; got != 1 {
		t.Errorf("Reclaimed = %d, want 1", got)
	}
}

func TestPipelineDecoys(t *testing.T) {
	conn := setupTestDB(t)
	w := seedWorld(t, conn)
	if _, err := conn.Exec(`UPDATE campaigns SET config = ? WHERE id = ?`,
		"decoy:\n  amount: 2\n  address: decoy-*@example.com\n", w.campaign.ID); err != nil {
		t.Fatalf("failed to configure decoys: %v", err)
	}
	rec := w.addRecipient(t, "ann@"+testDomain)
	stub := &stubTransport{}
	p := newTestPipeline(t, w, stub)

	if got := p.Fetch(context.Background()); got != 1 {
		t.Fatalf("Fetch = %d, want 1", got)
	}
	if len(stub.jobs) != 3 {
		t.Fatalf("transport received %d jobs, want 1 real + 2 decoys", len(stub.jobs))
	}
	for _, job := range stub.jobs[1:] {
		if !strings.HasPrefix(job.Recipient.Email, "decoy-") ||
			!strings.HasSuffix(job.Recipient.Email, "@example.com") {
			t.Errorf("unexpected decoy address %q", job.Recipient.Email)
		}
		if strings.Contains(job.Recipient.Email, "*") {
			t.Errorf("decoy wildcard not substituted: %q", job.Recipient.Email)
		}
		if job.Token != "" {
			t.Error("decoy jobs must not carry a recipient token")
		}
	}

	var n int
	if err := conn.QueryRow(`
		SELECT COUNT(*) FROM deliveries
		WHERE recipient_id = ? AND details LIKE 'decoy:%'`, rec.ID).Scan(&n); err != nil {
		t.Fatalf("failed to count decoy events: %v", err)
	}
	if n != 2 {
		t.Errorf("decoy events = %d, want 2", n)
	}
}

func TestRender(t *testing.T) {
	vars := map[string]string{"first": "Ann", "email": "ann@example.com"}

	tests := []struct {
		tpl  string
		want string
	}{
		{"Hi {{first}}", "Hi Ann"},
		{"{{ first }} <{{email}}>", "Ann <ann@example.com>"},
		{"no variables", "no variables"},
		{"{{unknown}} stays", "{{unknown}} stays"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := render(tt.tpl, vars); got != tt.want {
			t.Errorf("render(%q) = %q, want %q", tt.tpl, got, tt.want)
		}
	}
}

package pipeline

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/foxzi/lanes/internal/metrics"
	"github.com/foxzi/lanes/internal/models"
	"github.com/foxzi/lanes/internal/repository"
	"github.com/foxzi/lanes/internal/token"
	"github.com/foxzi/lanes/internal/transport"
)

// DefaultCycles bounds how many candidates one tick may service.
const DefaultCycles = 100

// staleAge is how long a delivery may stay pending before the tick GC
// reclaims it: a safeguard against a crashed send holding its triple.
const staleAge = time.Hour

// variable pattern for template substitution: {{variable_name}}
var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Pipeline drives the candidate selector in a bounded loop, creating
// ledger entries and handing them to the transports.
//
// A single pipeline instance must own sending: the selector treats any
// existing delivery row as exhausting its triple, so a second concurrent
// instance could duplicate a send in the window between selection and
// row creation. Fetch serializes itself with a mutex.
//
// Sends are single-attempt: a failed send closes the delivery with the
// failure text, and the existing row keeps the triple ineligible
// forever.
type Pipeline struct {
	selector   *Selector
	deliveries *repository.DeliveryRepository
	lanes      *repository.LaneRepository
	transports transport.Transport
	codec      *token.Codec
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cycles     int

	mu       sync.Mutex
	lastTick time.Time
	fetched  int
	gced     int64
}

// Status is a snapshot of the most recent tick.
type Status struct {
	LastTick  time.Time `json:"last_tick"`
	Fetched   int       `json:"fetched"`
	Reclaimed int64     `json:"reclaimed"`
}

func New(db *sql.DB, sel *Selector, transports transport.Transport, codec *token.Codec, m *metrics.Metrics, logger *slog.Logger, cycles int) *Pipeline {
	if cycles <= 0 {
		cycles = DefaultCycles
	}
	return &Pipeline{
		selector:   sel,
		deliveries: repository.NewDeliveryRepository(db),
		lanes:      repository.NewLaneRepository(db),
		transports: transports,
		codec:      codec,
		metrics:    m,
		logger:     logger.With("component", "pipeline"),
		cycles:     cycles,
	}
}

// Fetch runs one scheduler tick: reclaim stale pending deliveries, then
// pull candidates one at a time until the queue drains or the cycle
// bound is hit. Returns how many deliveries were created.
func (p *Pipeline) Fetch(ctx context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	gced, err := p.deliveries.DeleteStalePending(staleAge)
	if err != nil {
		p.logger.Error("failed to reclaim stale deliveries", "error", err)
	} else if gced > 0 {
		p.logger.Warn("reclaimed stale pending deliveries", "count", gced)
	}

	fetched := 0
	for i := 0; i < p.cycles; i++ {
		if ctx.Err() != nil {
			p.logger.Info("tick cut short", "fetched", fetched)
			break
		}

		cand, err := p.selector.Next()
		if err != nil {
			p.logger.Error("candidate selection failed", "error", err)
			break
		}
		if cand == nil {
			// Queue drained this cycle; not an error.
			break
		}
		if err := p.service(ctx, cand); err != nil {
			p.logger.Error("failed to service candidate",
				"recipient", cand.Recipient.ID,
				"campaign", cand.Campaign.ID,
				"letter", cand.Letter.ID,
				"error", err,
			)
			break
		}
		fetched++
	}

	p.lastTick = time.Now().UTC()
	p.fetched = fetched
	p.gced = gced
	if fetched > 0 {
		p.logger.Info("tick complete", "fetched", fetched)
	}
	return fetched
}

// Status returns a snapshot of the most recent tick.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{LastTick: p.lastTick, Fetched: p.fetched, Reclaimed: p.gced}
}

// service creates the delivery, reserving the relax cooldown before the
// send, then hands the job to the transport. Whatever the transport
// returns, outcome or failure, closes the delivery.
func (p *Pipeline) service(ctx context.Context, cand *Candidate) error {
	var relax *time.Time
	if spec := cand.Letter.Config.Relax; spec != "" {
		parsed, err := models.ParseRelax(spec)
		if err != nil {
			return err
		}
		at := parsed.At(time.Now().UTC())
		relax = &at
	}

	d, err := p.deliveries.Create(cand.Recipient.ID, cand.Campaign.ID, cand.Letter.ID, relax)
	if err != nil {
		return err
	}
	p.metrics.DeliveriesCreated.Inc()

	job, err := p.buildJob(cand, d.ID)
	if err != nil {
		// A broken configuration is a send failure, not a pipeline
		// failure: close the delivery so the triple is settled.
		p.metrics.DeliveriesFailed.Inc()
		return p.deliveries.Close(d.ID, err.Error())
	}

	details, sendErr := p.transports.Send(ctx, job)
	if sendErr != nil {
		details = sendErr.Error()
		p.metrics.DeliveriesFailed.Inc()
		p.logger.Warn("send failed",
			"delivery", d.ID,
			"recipient", cand.Recipient.ID,
			"kind", job.Kind,
			"error", sendErr,
		)
	} else {
		p.metrics.DeliveriesSent.Inc()
		p.logger.Debug("sent",
			"delivery", d.ID,
			"recipient", cand.Recipient.ID,
			"kind", job.Kind,
		)
	}
	if err := p.deliveries.Close(d.ID, details); err != nil {
		return err
	}

	if decoy := cand.Campaign.Config.Decoy; decoy != nil && sendErr == nil {
		p.injectDecoys(ctx, cand, job, decoy)
	}
	return nil
}

func (p *Pipeline) buildJob(cand *Candidate, deliveryID int64) (*transport.Job, error) {
	lane, err := p.lanes.GetByID(cand.Letter.LaneID)
	if err != nil {
		return nil, err
	}
	var laneCfg models.LaneConfig
	if lane != nil {
		laneCfg = lane.Config
	}

	cfg := cand.Letter.Config
	kind := cfg.Transport
	if kind == "" {
		kind = laneCfg.Transport
	}
	if kind == "" {
		kind = models.TransportSMTP
	}
	from := cfg.From
	if from == "" {
		from = laneCfg.From
	}
	chatID := cfg.ChatID
	if chatID == 0 {
		chatID = laneCfg.ChatID
	}

	tok, err := p.codec.Mint(cand.Recipient.ID, deliveryID)
	if err != nil {
		return nil, err
	}

	// The token variable lets letter templates build open-pixel and
	// unsubscribe URLs against the ops server's /t routes.
	vars := map[string]string{
		"email": cand.Recipient.Email,
		"first": cand.Recipient.First,
		"last":  cand.Recipient.Last,
		"name":  cand.Recipient.Name(),
		"token": tok,
	}

	return &transport.Job{
		DeliveryID: deliveryID,
		Recipient:  cand.Recipient,
		Letter:     cand.Letter,
		Kind:       kind,
		From:       from,
		ChatID:     chatID,
		Subject:    render(cfg.Subject, vars),
		Body:       render(cfg.Body, vars),
		Token:      tok,
	}, nil
}

// injectDecoys sends synthetic extra messages alongside a real send to
// disguise the sending pattern. Decoys are best effort; failures are
// logged and dropped.
func (p *Pipeline) injectDecoys(ctx context.Context, cand *Candidate, real *transport.Job, decoy *models.DecoyConfig) {
	n := int(decoy.Amount)
	if rand.Float64() < decoy.Amount-float64(n) {
		n++
	}
	for i := 0; i < n; i++ {
		addr := strings.Replace(decoy.Address, "*", randomSuffix(), 1)
		job := *real
		job.Recipient = models.Recipient{Email: addr}
		job.Token = ""
		if _, err := p.transports.Send(ctx, &job); err != nil {
			p.logger.Debug("decoy send failed", "address", addr, "error", err)
			continue
		}
		campaignID := cand.Campaign.ID
		if _, err := p.deliveries.CreateEvent(cand.Recipient.ID, &campaignID, "decoy: "+addr); err != nil {
			p.logger.Error("failed to record decoy", "address", addr, "error", err)
		}
	}
}

func randomSuffix() string {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], rand.Uint32())
	return hex.EncodeToString(buf[:])
}

// render substitutes {{variable}} patterns in a template string.
func render(tpl string, vars map[string]string) string {
	if tpl == "" {
		return tpl
	}
	return varPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}

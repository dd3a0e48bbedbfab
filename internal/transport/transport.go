// Package transport delivers rendered messages to recipients. The
// pipeline treats transports as opaque: a send returns a human-readable
// outcome string or an error, and either one closes the delivery.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/foxzi/lanes/internal/models"
)

// Job is one rendered message bound to a delivery.
type Job struct {
	DeliveryID int64
	Recipient  models.Recipient
	Letter     models.Letter

	Kind    string // models.TransportSMTP or models.TransportTelegram
	From    string
	ChatID  int64
	Subject string
	Body    string

	// Token is the signed recipient identity embedded in outbound mail
	// so bounces can be reconciled.
	Token string
}

// Transport sends one job. Implementations must respect the context
// deadline; exceeding it is a send failure, not a hang.
type Transport interface {
	Send(ctx context.Context, job *Job) (string, error)
}

// Router picks the transport for a job's kind and enforces the per-send
// timeout.
type Router struct {
	byKind  map[string]Transport
	timeout time.Duration
}

func NewRouter(timeout time.Duration) *Router {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Router{
		byKind:  make(map[string]Transport),
		timeout: timeout,
	}
}

// Register binds a transport to a kind.
func (r *Router) Register(kind string, t Transport) {
	r.byKind[kind] = t
}

func (r *Router) Send(ctx context.Context, job *Job) (string, error) {
	t, ok := r.byKind[job.Kind]
	if !ok {
		return "", fmt.Errorf("no transport registered for kind %q", job.Kind)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return t.Send(ctx, job)
}

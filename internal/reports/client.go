package reports

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"report-ledger/internal/backend"
	"report-ledger/internal/domain"
	"report-ledger/internal/session"
)

// ErrNoPrincipal is returned by mutating operations when no one is
// signed in.
var ErrNoPrincipal = errors.New("no signed-in principal")

// State is the lifecycle of the locally cached report view.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// TokenSource supplies the bearer token for record calls. The session
// manager satisfies it.
type TokenSource interface {
	AccessToken() string
}

// Client issues report CRUD against the remote record API and keeps a
// local ordered view of the reports visible to the current principal.
// The view is a cache for presentation only; the backend stays
// authoritative.
type Client struct {
	records *backend.Client
	tokens  TokenSource
	logger  *logrus.Logger

	mu      sync.Mutex
	view    []domain.Report
	state   State
	lastErr error
	// fetch tagging: a list response only lands if it is still the
	// newest fetch and the view owner has not changed in the meantime
	seq       uint64
	viewOwner string
}

func NewClient(records *backend.Client, tokens TokenSource, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		records: records,
		tokens:  tokens,
		logger:  logger,
		state:   StateIdle,
	}
}

// List fetches the reports visible to p, newest first. An absent
// principal yields an empty list with no network call. On success the
// cached view is replaced unless a newer fetch started or the principal
// changed while this one was in flight; on failure the previous view is
// left untouched and the error is surfaced to the caller.
func (c *Client) List(ctx context.Context, p *domain.Principal) ([]domain.Report, error) {
	if p == nil {
		return []domain.Report{}, nil
	}

	owner := p.ID
	if p.Privileged {
		owner = "" // unfiltered select with owner embed
	}

	c.mu.Lock()
	c.seq++
	tag := c.seq
	c.viewOwner = p.ID
	c.state = StateLoading
	c.mu.Unlock()

	fetched, err := c.records.SelectReports(ctx, c.tokens.AccessToken(), owner)

	c.mu.Lock()
	defer c.mu.Unlock()
	if tag != c.seq || c.viewOwner != p.ID {
		// a newer fetch or principal change superseded this response
		c.logger.Debugf("dropping stale report fetch (tag %d, current %d)", tag, c.seq)
		if err != nil {
			return nil, err
		}
		return fetched, nil
	}
	if err != nil {
		c.state = StateError
		c.lastErr = err
		return nil, err
	}
	c.view = fetched
	c.state = StateReady
	c.lastErr = nil
	return copyReports(fetched), nil
}

// Create persists a new report owned by p. Ownership is forced to the
// signed-in principal regardless of anything in the input, and the
// persisted report is prepended to the cached view so it shows up
// first without a refetch.
func (c *Client) Create(ctx context.Context, p *domain.Principal, input domain.ReportInput) (domain.Report, error) {
	if p == nil {
		return domain.Report{}, ErrNoPrincipal
	}

	patch := input.Normalize(time.Now())

	c.setState(StateLoading)
	created, err := c.records.InsertReport(ctx, c.tokens.AccessToken(), p.ID, patch)
	if err != nil {
		c.fail(err)
		return domain.Report{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.viewOwner == p.ID || c.viewOwner == "" {
		c.view = append([]domain.Report{created}, c.view...)
		c.viewOwner = p.ID
	}
	c.state = StateReady
	c.lastErr = nil
	return created, nil
}

// Update patches the mutable fields of an existing report. No local
// ownership check happens here; the backend enforces authorization and
// the presentation layer gates the affordance. Callers refresh the view
// after a successful update.
func (c *Client) Update(ctx context.Context, p *domain.Principal, id string, input domain.ReportInput) error {
	if p == nil {
		return ErrNoPrincipal
	}

	patch := input.Normalize(time.Now())

	c.setState(StateLoading)
	if err := c.records.UpdateReport(ctx, c.tokens.AccessToken(), id, patch); err != nil {
		c.fail(err)
		return err
	}
	c.setState(StateReady)
	return nil
}

// Remove deletes a report by id and drops it from the cached view
// without a refetch.
func (c *Client) Remove(ctx context.Context, id string) error {
	c.setState(StateLoading)
	if err := c.records.DeleteReport(ctx, c.tokens.AccessToken(), id); err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.view[:0]
	for _, r := range c.view {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	c.view = kept
	c.state = StateReady
	c.lastErr = nil
	return nil
}

// Snapshot returns a copy of the cached view with its state and last
// error, for the presentation layer.
func (c *Client) Snapshot() ([]domain.Report, State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyReports(c.view), c.state, c.lastErr
}

// Reset clears the cached view, including any in-flight fetch's right
// to land.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.view = nil
	c.viewOwner = ""
	c.state = StateIdle
	c.lastErr = nil
}

// Run consumes session change events: a new principal triggers a
// refetch of its visible set, an absent principal clears the view.
// Returns when ctx is cancelled or the channel closes.
func (c *Client) Run(ctx context.Context, events <-chan session.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-events:
			if !ok {
				return
			}
			if change.Principal == nil {
				c.Reset()
				continue
			}
			if _, err := c.List(ctx, change.Principal); err != nil {
				c.logger.Warnf("refresh reports after session change: %v", err)
			}
		}
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	if s != StateError {
		c.lastErr = nil
	}
	c.mu.Unlock()
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	c.state = StateError
	c.lastErr = err
	c.mu.Unlock()
}

func copyReports(in []domain.Report) []domain.Report {
	out := make([]domain.Report, len(in))
	copy(out, in)
	return out
}

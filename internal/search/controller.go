package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/commerce"
)

// Mode decides when filter changes reach the URL.
type Mode int

const (
	// ModeDesktop commits every change immediately.
	ModeDesktop Mode = iota
	// ModeMobile accumulates changes until Commit.
	ModeMobile
)

// ParseMode maps "mobile" to ModeMobile and anything else to ModeDesktop.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "mobile") {
		return ModeMobile
	}
	return ModeDesktop
}

func (m Mode) String() string {
	if m == ModeMobile {
		return "mobile"
	}
	return "desktop"
}

const (
	defaultDebounce = 300 * time.Millisecond
	countTimeout    = 5 * time.Second
)

// Counter returns the hit count for a search without fetching products.
type Counter interface {
	SearchCount(ctx context.Context, in commerce.SearchInput) (int, error)
}

// ControllerOption customises a Controller.
type ControllerOption func(*Controller)

// WithMode sets the commit mode.
func WithMode(m Mode) ControllerOption {
	return func(c *Controller) { c.mode = m }
}

// WithDebounce sets the quiet period before a re-count runs.
func WithDebounce(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d >= 0 {
			c.debounce = d
		}
	}
}

// WithTotal seeds the displayed total, usually from the listing query.
func WithTotal(n int) ControllerOption {
	return func(c *Controller) { c.total = n }
}

// WithLogger sets the logger used for failed counts.
func WithLogger(logger *zap.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Controller keeps a working copy of the facet groups apart from the committed URL state. Changes
// trigger a debounced re-count so the shopper sees the hit total before committing.
type Controller struct {
	counter  Counter
	mode     Mode
	debounce time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	committed Params
	base      Params
	groups    []commerce.FacetGroup
	timer     *time.Timer
	seq       uint64
	settled   chan struct{}
	total     int
	countErr  error
	closed    bool
}

// NewController starts from the committed URL state and the facet groups of the current result.
func NewController(committed Params, groups []commerce.FacetGroup, counter Counter, opts ...ControllerOption) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		counter:   counter,
		debounce:  defaultDebounce,
		logger:    zap.NewNop(),
		ctx:       ctx,
		cancel:    cancel,
		committed: committed.Clone(),
		base:      committed.Clone(),
		groups:    ApplyParams(groups, committed),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the commit mode.
func (c *Controller) Mode() Mode { return c.mode }

// Committed returns the URL state last committed.
func (c *Controller) Committed() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed.Clone()
}

// Groups returns a copy of the working facet groups.
func (c *Controller) Groups() []commerce.FacetGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CloneGroups(c.groups)
}

// Working returns the URL state the working copy would commit to.
func (c *Controller) Working() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ParamsFor(c.base, c.groups)
}

// Dirty reports whether the working copy differs from the committed state.
func (c *Controller) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ParamsFor(c.base, c.groups).String() != c.committed.String()
}

// Toggle flips a distinct value. It returns the committed params and whether this call committed.
func (c *Controller) Toggle(field, value string) (Params, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.groups {
		if c.groups[i].Field != field || c.groups[i].Type == commerce.FacetRange {
			continue
		}
		for j := range c.groups[i].Values {
			if c.groups[i].Values[j].Value == value {
				c.groups[i].Values[j].Selected = !c.groups[i].Values[j].Selected
			}
		}
	}
	return c.changedLocked()
}

// SetRange sets a range group's selected bounds, clamped to its absolute bounds.
func (c *Controller) SetRange(field string, lo, hi float64) (Params, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lo > hi {
		lo, hi = hi, lo
	}
	for i := range c.groups {
		g := &c.groups[i]
		if g.Field == field && g.Type == commerce.FacetRange {
			g.SelectedMin = clamp(lo, g.Min, g.Max)
			g.SelectedMax = clamp(hi, g.Min, g.Max)
		}
	}
	return c.changedLocked()
}

// Clear unselects every distinct value and resets ranges to their absolute bounds. The free-text
// query and sort survive; every other parameter is dropped.
func (c *Controller) Clear() (Params, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.groups {
		g := &c.groups[i]
		g.SelectedMin, g.SelectedMax = g.Min, g.Max
		for j := range g.Values {
			g.Values[j].Selected = false
		}
	}
	kept := Params{}
	for _, key := range []string{KeyQuery, KeySortBy, KeySortDirection} {
		for _, v := range c.base.GetAll(key) {
			kept.Append(key, v)
		}
	}
	c.base = kept
	return c.changedLocked()
}

// Commit pushes the working copy to the committed state and returns it.
func (c *Controller) Commit() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitLocked()
}

func (c *Controller) commitLocked() Params {
	c.committed = ParamsFor(c.base, c.groups)
	c.base = c.committed.Clone()
	return c.committed.Clone()
}

func (c *Controller) changedLocked() (Params, bool) {
	if c.mode == ModeDesktop {
		return c.commitLocked(), true
	}
	c.scheduleCountLocked()
	return c.committed.Clone(), false
}

func (c *Controller) inputLocked() commerce.SearchInput {
	p := ParamsFor(c.base, c.groups)
	in := Input(p, 0, RangeFields(c.groups)...)
	in.Page = 1
	return in
}

func (c *Controller) scheduleCountLocked() {
	if c.closed || c.counter == nil {
		return
	}
	c.seq++
	if c.settled == nil {
		c.settled = make(chan struct{})
	}
	if c.timer != nil && c.timer.Stop() {
		c.wg.Done()
	}
	seq, in := c.seq, c.inputLocked()
	c.wg.Add(1)
	c.timer = time.AfterFunc(c.debounce, func() {
		defer c.wg.Done()
		c.runCount(seq, in)
	})
}

func (c *Controller) runCount(seq uint64, in commerce.SearchInput) {
	ctx, cancel := context.WithTimeout(c.ctx, countTimeout)
	defer cancel()
	total, err := c.counter.SearchCount(ctx, in)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq || c.closed {
		return
	}
	if err != nil {
		c.logger.Warn("search: facet count failed", zap.Error(err))
	} else {
		c.total = total
	}
	c.countErr = err
	if c.settled != nil {
		close(c.settled)
		c.settled = nil
	}
}

// Total returns the hit count of the working copy, waiting for a pending re-count.
func (c *Controller) Total(ctx context.Context) (int, error) {
	c.mu.Lock()
	settled := c.settled
	c.mu.Unlock()
	if settled != nil {
		select {
		case <-settled:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total, c.countErr
}

// Preview counts the working copy now, bypassing the debounce.
func (c *Controller) Preview(ctx context.Context) (int, error) {
	c.mu.Lock()
	in := c.inputLocked()
	c.mu.Unlock()
	if c.counter == nil {
		return 0, nil
	}
	total, err := c.counter.SearchCount(ctx, in)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.total = total
	c.mu.Unlock()
	return total, nil
}

// Close stops pending re-counts and waits for a running one to return.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil && c.timer.Stop() {
		c.wg.Done()
	}
	if c.settled != nil {
		close(c.settled)
		c.settled = nil
	}
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

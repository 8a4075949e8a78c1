package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"finitefield.org/storefront/internal/commerce"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCounter struct {
	calls atomic.Int32
	total int
	err   error

	mu   sync.Mutex
	last commerce.SearchInput
}

func (f *fakeCounter) SearchCount(_ context.Context, in commerce.SearchInput) (int, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = in
	f.mu.Unlock()
	return f.total, f.err
}

func (f *fakeCounter) lastInput() commerce.SearchInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func TestControllerDesktopCommitsImmediately(t *testing.T) {
	counter := &fakeCounter{}
	c := NewController(Parse("q=shirt&sort_by=price&page=3"), fixtureGroups(), counter)
	defer c.Close()

	params, committed := c.Toggle("brand", "Nord")
	require.True(t, committed)
	require.Equal(t, "q=shirt&sort_by=price&brand=Nord", params.String())
	require.Equal(t, params.String(), c.Committed().String())

	params, committed = c.SetRange(PriceField, 800, 300)
	require.True(t, committed)
	require.Equal(t, "q=shirt&sort_by=price&brand=Nord&price=300-800", params.String())

	params, _ = c.Toggle("brand", "Nord")
	require.Equal(t, "q=shirt&sort_by=price&price=300-800", params.String())
	require.Zero(t, counter.calls.Load())
}

func TestControllerMobileDebouncesCount(t *testing.T) {
	counter := &fakeCounter{total: 7}
	committed := Parse("q=shirt")
	c := NewController(committed, fixtureGroups(), counter,
		WithMode(ModeMobile),
		WithDebounce(20*time.Millisecond),
		WithTotal(12),
	)
	defer c.Close()

	total, err := c.Total(context.Background())
	require.NoError(t, err)
	require.Equal(t, 12, total)

	_, ok := c.Toggle("brand", "Nord")
	require.False(t, ok)
	c.Toggle("color", "white")
	params, ok := c.SetRange(PriceField, 200, 800)
	require.False(t, ok)
	require.Equal(t, "q=shirt", params.String())
	require.True(t, c.Dirty())

	total, err = c.Total(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, total)
	require.Equal(t, int32(1), counter.calls.Load())

	in := counter.lastInput()
	require.Equal(t, "shirt", in.Query)
	require.Len(t, in.Filters, 3)
	require.Equal(t, []string{"Nord"}, in.Filters[0].Values)
	require.Equal(t, []string{"white"}, in.Filters[1].Values)
	require.Equal(t, 200.0, *in.Filters[2].Min)

	require.Equal(t, "q=shirt", c.Committed().String())
	require.Equal(t, "q=shirt&brand=Nord&color=white&price=200-800", c.Commit().String())
	require.False(t, c.Dirty())
}

func TestControllerClearKeepsQueryAndSort(t *testing.T) {
	committed := Parse("q=shirt&sort_by=price&sort_direction=desc&tab_index=1&brand=Nord&color=grey&price=300-900")
	c := NewController(committed, fixtureGroups(), &fakeCounter{})
	defer c.Close()
	require.Equal(t, 3, SelectedCount(c.Groups()))

	params, ok := c.Clear()
	require.True(t, ok)
	require.Equal(t, "q=shirt&sort_by=price&sort_direction=desc", params.String())

	groups := c.Groups()
	require.Zero(t, SelectedCount(groups))
	for _, g := range groups {
		for _, v := range g.Values {
			require.False(t, v.Selected)
		}
		require.Equal(t, g.Min, g.SelectedMin)
		require.Equal(t, g.Max, g.SelectedMax)
	}
}

func TestControllerMobileClearWaitsForCommit(t *testing.T) {
	counter := &fakeCounter{total: 40}
	c := NewController(Parse("q=shirt&brand=Nord"), fixtureGroups(), counter,
		WithMode(ModeMobile), WithDebounce(time.Millisecond))
	defer c.Close()

	_, ok := c.Clear()
	require.False(t, ok)
	total, err := c.Total(context.Background())
	require.NoError(t, err)
	require.Equal(t, 40, total)
	require.Equal(t, "q=shirt&brand=Nord", c.Committed().String())
	require.Equal(t, "q=shirt", c.Commit().String())
}

func TestControllerCountError(t *testing.T) {
	counter := &fakeCounter{err: errors.New("backend down")}
	c := NewController(Params{}, fixtureGroups(), counter, WithMode(ModeMobile), WithDebounce(time.Millisecond), WithTotal(5))
	defer c.Close()

	c.Toggle("brand", "Fjell")
	total, err := c.Total(context.Background())
	require.Error(t, err)
	require.Equal(t, 5, total, "previous total kept")
}

func TestControllerTotalHonoursContext(t *testing.T) {
	c := NewController(Params{}, fixtureGroups(), &fakeCounter{}, WithMode(ModeMobile), WithDebounce(time.Hour))
	defer c.Close()
	c.Toggle("brand", "Nord")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Total(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestControllerCloseStopsPendingCount(t *testing.T) {
	counter := &fakeCounter{}
	c := NewController(Params{}, fixtureGroups(), counter, WithMode(ModeMobile), WithDebounce(time.Hour))
	c.Toggle("brand", "Nord")
	c.Close()
	c.Close()
	require.Zero(t, counter.calls.Load())

	_, err := c.Total(context.Background())
	require.NoError(t, err)
}

func TestControllerPreviewAgainstMemory(t *testing.T) {
	mem := commerce.NewMemory()
	res, err := mem.Search(context.Background(), commerce.SearchInput{})
	require.NoError(t, err)

	c := NewController(Params{}, res.Facets, mem, WithMode(ModeMobile), WithDebounce(time.Hour), WithTotal(res.TotalCount))
	defer c.Close()
	c.Toggle("brand", "Nord")

	total, err := c.Preview(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	committed := Parse("q=shirt")
	first := NewController(committed, fixtureGroups(), &fakeCounter{}, WithMode(ModeMobile))
	r.Put("sess", first)

	got, ok := r.Get("sess", committed)
	require.True(t, ok)
	require.Same(t, first, got)

	_, ok = r.Get("sess", Parse("q=socks"))
	require.False(t, ok, "navigated away")

	second := NewController(Parse("q=socks"), fixtureGroups(), &fakeCounter{}, WithMode(ModeMobile))
	r.Put("sess", second)
	_, ok = r.Get("sess", committed)
	require.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = r.Get("sess", Parse("q=socks"))
	require.False(t, ok)
}

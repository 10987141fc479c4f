package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensembleai/ensemble/internal/a2a"
	"github.com/ensembleai/ensemble/pkg/card"
)

// fakeFetcher serves canned cards or errors per address.
type fakeFetcher struct {
	cards  map[string]*card.AgentCard
	errs   map[string]error
	probes map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		cards:  make(map[string]*card.AgentCard),
		errs:   make(map[string]error),
		probes: make(map[string]int),
	}
}

func (f *fakeFetcher) FetchCard(_ context.Context, base string) (*card.AgentCard, error) {
	f.probes[base]++
	if err, ok := f.errs[base]; ok {
		return nil, err
	}
	if c, ok := f.cards[base]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("no route to %s", base)
}

func testCard(name string) *card.AgentCard {
	return &card.AgentCard{
		Name:    name,
		Version: "1.0.0",
		Skills:  []card.Skill{{ID: name + "-skill", Name: name}},
	}
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestDiscover(t *testing.T) {
	ctx := context.Background()

	t.Run("success makes the entry reachable", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.cards["http://a:1"] = testCard("alpha")

		r := New(fetcher, newTestLogger())
		c, err := r.Discover(ctx, "http://a:1")
		require.NoError(t, err)
		assert.Equal(t, "alpha", c.Name)

		entry, ok := r.Lookup("alpha")
		require.True(t, ok)
		assert.Equal(t, HealthReachable, entry.Health)
		assert.False(t, entry.LastContact.IsZero())
	})

	t.Run("failure makes an unknown entry unreachable", func(t *testing.T) {
		fetcher := newFakeFetcher()
		r := New(fetcher, newTestLogger())

		_, err := r.Discover(ctx, "http://down:1")
		var discErr *DiscoveryError
		require.ErrorAs(t, err, &discErr)
		assert.Equal(t, Unreachable, discErr.Kind)
		assert.Empty(t, r.ListReachable())
	})

	t.Run("malformed card is classified", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.errs["http://bad:1"] = &a2a.MalformedCardError{Base: "http://bad:1", Err: errors.New("boom")}

		r := New(fetcher, newTestLogger())
		_, err := r.Discover(ctx, "http://bad:1")
		var discErr *DiscoveryError
		require.ErrorAs(t, err, &discErr)
		assert.Equal(t, MalformedCard, discErr.Kind)
	})

	t.Run("reachable entry survives failures below the threshold", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.cards["http://a:1"] = testCard("alpha")

		r := New(fetcher, newTestLogger(), WithFailureThreshold(3))
		_, err := r.Discover(ctx, "http://a:1")
		require.NoError(t, err)

		delete(fetcher.cards, "http://a:1")
		for i := 0; i < 2; i++ {
			_, err = r.Discover(ctx, "http://a:1")
			require.Error(t, err)
			assert.Len(t, r.ListReachable(), 1, "probe %d should not flip health", i+1)
		}

		_, err = r.Discover(ctx, "http://a:1")
		require.Error(t, err)
		assert.Empty(t, r.ListReachable())
	})

	t.Run("success resets the failure count", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.cards["http://a:1"] = testCard("alpha")

		r := New(fetcher, newTestLogger(), WithFailureThreshold(2))
		_, err := r.Discover(ctx, "http://a:1")
		require.NoError(t, err)

		delete(fetcher.cards, "http://a:1")
		_, _ = r.Discover(ctx, "http://a:1")

		fetcher.cards["http://a:1"] = testCard("alpha")
		_, err = r.Discover(ctx, "http://a:1")
		require.NoError(t, err)

		delete(fetcher.cards, "http://a:1")
		_, _ = r.Discover(ctx, "http://a:1")
		assert.Len(t, r.ListReachable(), 1, "one failure after reset must not flip health")
	})

	t.Run("unreachable entry recovers on success", func(t *testing.T) {
		fetcher := newFakeFetcher()
		r := New(fetcher, newTestLogger())

		_, err := r.Discover(ctx, "http://a:1")
		require.Error(t, err)

		fetcher.cards["http://a:1"] = testCard("alpha")
		_, err = r.Discover(ctx, "http://a:1")
		require.NoError(t, err)
		assert.Len(t, r.ListReachable(), 1)
	})

	t.Run("re-discovery replaces the card wholesale", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.cards["http://a:1"] = testCard("alpha")

		r := New(fetcher, newTestLogger())
		_, err := r.Discover(ctx, "http://a:1")
		require.NoError(t, err)

		updated := testCard("alpha")
		updated.Version = "2.0.0"
		updated.Skills = append(updated.Skills, card.Skill{ID: "extra"})
		fetcher.cards["http://a:1"] = updated

		_, err = r.Discover(ctx, "http://a:1")
		require.NoError(t, err)

		entry, _ := r.Lookup("alpha")
		assert.Equal(t, "2.0.0", entry.Card.Version)
		assert.Len(t, entry.Card.Skills, 2)
	})
}

func TestListReachableOrder(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.cards["http://a:1"] = testCard("alpha")
	fetcher.cards["http://b:1"] = testCard("beta")
	fetcher.cards["http://c:1"] = testCard("gamma")

	r := New(fetcher, newTestLogger())
	r.Register("http://a:1")
	r.Register("http://b:1")
	r.Register("http://c:1")
	r.DiscoverAll(context.Background())

	entries := r.ListReachable()
	require.Len(t, entries, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{entries[0].Order, entries[1].Order, entries[2].Order})
	assert.Equal(t, "alpha", entries[0].Card.Name)
	assert.Equal(t, "gamma", entries[2].Card.Name)
}

func TestDiscoverAllToleratesFailures(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.cards["http://a:1"] = testCard("alpha")

	r := New(fetcher, newTestLogger())
	r.Register("http://a:1")
	r.Register("http://down:1")
	r.DiscoverAll(context.Background())

	entries := r.ListReachable()
	require.Len(t, entries, 1)
	assert.Equal(t, "alpha", entries[0].Card.Name)
}

func TestRefresh(t *testing.T) {
	fetcher := newFakeFetcher()
	r := New(fetcher, newTestLogger())

	_, err := r.Refresh(context.Background(), "http://nowhere:1")
	assert.ErrorIs(t, err, ErrUnknownAgent)

	fetcher.cards["http://a:1"] = testCard("alpha")
	r.Register("http://a:1")
	entry, err := r.Refresh(context.Background(), "http://a:1")
	require.NoError(t, err)
	assert.Equal(t, HealthReachable, entry.Health)
}

func TestLookupUnknown(t *testing.T) {
	r := New(newFakeFetcher(), newTestLogger())
	_, ok := r.Lookup("ghost")
	assert.False(t, ok)
}

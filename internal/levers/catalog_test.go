package levers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/feed-goat/internal/feed"
)

func constantInput(v float64) InputFunc {
	return func(*feed.Item, feed.Env, map[string]int) (float64, bool) { return v, true }
}

func scoreKey(s *feed.Scored) float64 { return s.RelevancyScore }

func TestBuild_DuplicateRelevancyKey(t *testing.T) {
	_, err := Build(func(b *Builder) {
		b.AddOrderByLever(DefaultOrderByKey, OrderByOptions{SortKey: scoreKey})
		b.AddRelevancyLever("recency", RelevancyOptions{Input: constantInput(1)})
		b.AddRelevancyLever("recency", RelevancyOptions{Input: constantInput(2)})
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestBuild_DuplicateOrderByKey(t *testing.T) {
	_, err := Build(func(b *Builder) {
		b.AddOrderByLever(DefaultOrderByKey, OrderByOptions{SortKey: scoreKey})
		b.AddOrderByLever(DefaultOrderByKey, OrderByOptions{SortKey: scoreKey})
	})

	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestBuild_SameKeyAcrossMappingsIsAllowed(t *testing.T) {
	c, err := Build(func(b *Builder) {
		b.AddOrderByLever(DefaultOrderByKey, OrderByOptions{SortKey: scoreKey})
		b.AddRelevancyLever(DefaultOrderByKey, RelevancyOptions{Input: constantInput(1)})
	})

	require.NoError(t, err)
	assert.Len(t, c.RelevancyLevers(), 1)
	assert.Len(t, c.OrderByLevers(), 1)
}

func TestBuild_ZeroOrOneDistinctKeys(t *testing.T) {
	_, err := Build(func(b *Builder) {
		b.AddOrderByLever(DefaultOrderByKey, OrderByOptions{SortKey: scoreKey})
	})
	require.NoError(t, err)

	_, err = Build(func(b *Builder) {
		b.AddOrderByLever(DefaultOrderByKey, OrderByOptions{SortKey: scoreKey})
		b.AddRelevancyLever("recency", RelevancyOptions{Input: constantInput(1)})
	})
	require.NoError(t, err)
}

func TestBuild_MissingDefaultOrderBy(t *testing.T) {
	_, err := Build(func(b *Builder) {
		b.AddOrderByLever("something_else", OrderByOptions{SortKey: scoreKey})
		b.AddRelevancyLever("recency", RelevancyOptions{Input: constantInput(1)})
	})

	require.Error(t, err)
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestBuild_CustomDefaultOrderBy(t *testing.T) {
	c, err := Build(func(b *Builder) {
		b.WithDefaultOrderBy("newest")
		b.AddOrderByLever("newest", OrderByOptions{SortKey: scoreKey})
	})
	require.NoError(t, err)

	o, err := c.FetchOrderBy("")
	require.NoError(t, err)
	assert.Equal(t, "newest", o.Key())
}

func TestBuild_RejectsLeverWithoutInput(t *testing.T) {
	_, err := Build(func(b *Builder) {
		b.AddOrderByLever(DefaultOrderByKey, OrderByOptions{SortKey: scoreKey})
		b.AddRelevancyLever("broken", RelevancyOptions{})
	})

	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestMustBuild_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustBuild(func(b *Builder) {})
	})
}

func TestCatalog_Fetch(t *testing.T) {
	c := Default()

	l, err := c.FetchLever("daily_decay")
	require.NoError(t, err)
	assert.Equal(t, "daily_decay", l.Key())
	assert.True(t, l.UserRequired())

	_, err = c.FetchLever("nope")
	assert.ErrorIs(t, err, ErrLeverNotFound)

	o, err := c.FetchOrderBy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultOrderByKey, o.Key())

	_, err = c.FetchOrderBy("nope")
	assert.ErrorIs(t, err, ErrOrderByNotFound)
}

func TestCatalog_ListingIsACopy(t *testing.T) {
	c := Default()

	levers := c.RelevancyLevers()
	levers[0] = nil

	assert.NotNil(t, c.RelevancyLevers()[0])
}

func TestDefault_RegistersStandardLevers(t *testing.T) {
	c := Default()

	assert.Len(t, c.RelevancyLevers(), 16)
	assert.Len(t, c.OrderByLevers(), 5)
	assert.Same(t, c, Default())

	l, err := c.FetchLever("privileged_user_reaction_granular")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"very_negative_reaction_threshold",
		"negative_reaction_threshold",
		"very_positive_reaction_threshold",
		"positive_reaction_threshold",
	}, l.QueryParameterNames())
}

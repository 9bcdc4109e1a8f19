package levers

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/feed-goat/internal/feed"
)

func recencyLever(t *testing.T) *RelevancyLever {
	t.Helper()
	c, err := Build(func(b *Builder) {
		b.AddOrderByLever(DefaultOrderByKey, OrderByOptions{SortKey: scoreKey})
		b.AddRelevancyLever("recency", RelevancyOptions{
			Input: func(it *feed.Item, env feed.Env, _ map[string]int) (float64, bool) {
				return env.DaysSince(it.PublishedAt)
			},
		})
	})
	require.NoError(t, err)
	l, err := c.FetchLever("recency")
	require.NoError(t, err)
	return l
}

func TestConfigureWith_StepFunction(t *testing.T) {
	l := recencyLever(t)
	cl, err := l.ConfigureWith([][2]float64{{30, 5}, {7, 10}}, 1, nil)
	require.NoError(t, err)

	// Stored ascending regardless of input order.
	assert.Equal(t, []Case{{Threshold: 7, Weight: 10}, {Threshold: 30, Weight: 5}}, cl.Cases())

	tests := []struct {
		raw  float64
		ok   bool
		want float64
	}{
		{raw: 0, ok: true, want: 10},
		{raw: 7, ok: true, want: 10},
		{raw: 8, ok: true, want: 5},
		{raw: 30, ok: true, want: 5},
		{raw: 31, ok: true, want: 1},
		{raw: 3, ok: false, want: 1},
		{raw: math.NaN(), ok: true, want: 1},
	}
	for _, tt := range tests {
		if got := cl.Weigh(tt.raw, tt.ok); got != tt.want {
			t.Errorf("Weigh(%v, %v) = %v, want %v", tt.raw, tt.ok, got, tt.want)
		}
	}
}

func TestConfigureWith_EmptyCasesAlwaysFallback(t *testing.T) {
	cl, err := recencyLever(t).ConfigureWith([]any{}, 2.5, nil)
	require.NoError(t, err)

	assert.Equal(t, 2.5, cl.Weigh(1, true))
	assert.Equal(t, 2.5, cl.Weigh(1e9, true))
}

func TestConfigureWith_DecodedJSON(t *testing.T) {
	var doc struct {
		Cases    any `json:"cases"`
		Fallback any `json:"fallback"`
	}
	dec := json.NewDecoder(strings.NewReader(`{"cases": [[7, 10], [30, 5.5]], "fallback": 1}`))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&doc))

	cl, err := recencyLever(t).ConfigureWith(doc.Cases, doc.Fallback, nil)
	require.NoError(t, err)
	assert.Equal(t, 5.5, cl.Weigh(20, true))
	assert.Equal(t, 1.0, cl.Fallback())
}

func TestConfigureWith_InvalidFallback(t *testing.T) {
	l := recencyLever(t)

	for _, fb := range []any{nil, "1", []any{1}, math.NaN()} {
		_, err := l.ConfigureWith([][2]float64{{7, 10}}, fb, nil)
		var target *InvalidFallbackError
		if !errors.As(err, &target) {
			t.Errorf("fallback %#v: expected InvalidFallbackError, got %v", fb, err)
			continue
		}
		assert.Equal(t, "recency", target.Key)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	}
}

func TestConfigureWith_InvalidCases(t *testing.T) {
	l := recencyLever(t)

	for _, cs := range []any{
		nil,
		"[[7,10]]",
		[]any{[]any{7}},
		[]any{[]any{7, "ten"}},
		[]any{7, 10},
		[][]float64{{1, 2, 3}},
	} {
		_, err := l.ConfigureWith(cs, 1, nil)
		var target *InvalidCasesError
		if !errors.As(err, &target) {
			t.Errorf("cases %#v: expected InvalidCasesError, got %v", cs, err)
		}
	}
}

func TestConfigureWith_QueryParameters(t *testing.T) {
	c := Default()
	l, err := c.FetchLever("privileged_user_reaction")
	require.NoError(t, err)

	_, err = l.ConfigureWith([]any{}, 0, map[string]any{"negative_reaction_threshold": -10})
	var target *InvalidQueryParametersError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, []string{"negative_reaction_threshold", "positive_reaction_threshold"}, target.Expected)
	assert.Equal(t, []string{"negative_reaction_threshold"}, target.Given)

	_, err = l.ConfigureWith([]any{}, 0, map[string]any{
		"negative_reaction_threshold": "abc",
		"positive_reaction_threshold": 10,
	})
	assert.True(t, errors.As(err, &target))

	cl, err := l.ConfigureWith([]any{}, 0, map[string]any{
		"negative_reaction_threshold": "-10",
		"positive_reaction_threshold": json.Number("10"),
		"unused":                      true,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"negative_reaction_threshold": -10,
		"positive_reaction_threshold": 10,
	}, cl.QueryParameters())
}

func TestConfigureWith_Deterministic(t *testing.T) {
	l := recencyLever(t)
	a, err := l.ConfigureWith([][2]float64{{7, 10}, {30, 5}}, 1, nil)
	require.NoError(t, err)
	b, err := l.ConfigureWith([][2]float64{{7, 10}, {30, 5}}, 1, nil)
	require.NoError(t, err)

	assert.Equal(t, a.Cases(), b.Cases())
	assert.Equal(t, a.Fallback(), b.Fallback())
	assert.NotSame(t, a, b)
}

func TestEvaluate_Recency(t *testing.T) {
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	env := feed.Env{Now: now}
	cl, err := recencyLever(t).ConfigureWith([][2]float64{{7, 10}, {30, 5}}, 1, nil)
	require.NoError(t, err)

	assert.Equal(t, 10.0, cl.Evaluate(&feed.Item{PublishedAt: now.AddDate(0, 0, -3)}, env))
	assert.Equal(t, 5.0, cl.Evaluate(&feed.Item{PublishedAt: now.AddDate(0, 0, -20)}, env))
	assert.Equal(t, 1.0, cl.Evaluate(&feed.Item{PublishedAt: now.AddDate(0, 0, -45)}, env))
	assert.Equal(t, 1.0, cl.Evaluate(&feed.Item{}, env))
}

func TestDefaultInputs(t *testing.T) {
	c := Default()
	env := feed.Env{Now: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)}
	level := 8
	userEnv := feed.Env{Now: env.Now, User: &feed.User{ID: 1, ExperienceLevel: &level}}

	input := func(key string, it *feed.Item, env feed.Env, params map[string]int) (float64, bool) {
		t.Helper()
		l, err := c.FetchLever(key)
		require.NoError(t, err)
		return l.Input()(it, env, params)
	}

	it := &feed.Item{Attributes: map[string]float64{
		feed.AttrExperienceLevelRating:            3.4,
		feed.AttrNegativeTagsPoints:               -25,
		feed.AttrPositiveTagsPoints:               4,
		feed.AttrPrivilegedUsersReactionPointsSum: -12,
	}}

	v, ok := input("experience", it, env, map[string]int{"default_user_experience_level": 5})
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, _ = input("experience", it, userEnv, map[string]int{"default_user_experience_level": 5})
	assert.Equal(t, 5.0, v)

	v, _ = input("matching_negative_tags_intersection_points", it, userEnv, nil)
	assert.Equal(t, -10.0, v)

	v, _ = input("matching_positive_tags_intersection_points", it, userEnv, nil)
	assert.Equal(t, 4.0, v)

	v, ok = input("featured_article", it, env, nil)
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)

	_, ok = input("comments_count", it, env, nil)
	assert.False(t, ok)

	thresholds := map[string]int{"negative_reaction_threshold": -10, "positive_reaction_threshold": 10}
	v, _ = input("privileged_user_reaction", it, env, thresholds)
	assert.Equal(t, -1.0, v)

	granular := map[string]int{
		"very_negative_reaction_threshold": -20,
		"negative_reaction_threshold":      -10,
		"positive_reaction_threshold":      10,
		"very_positive_reaction_threshold": 20,
	}
	for sum, want := range map[float64]float64{-25: -2, -20: -1, -10: 0, 9: 0, 10: 1, 19: 1, 20: 2} {
		it.Attributes[feed.AttrPrivilegedUsersReactionPointsSum] = sum
		v, _ = input("privileged_user_reaction_granular", it, env, granular)
		assert.Equal(t, want, v, "sum %v", sum)
	}
}

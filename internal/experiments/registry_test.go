package experiments_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/feed-goat/internal/experiments"
	"github.com/headline-goat/feed-goat/internal/store"
	"github.com/headline-goat/feed-goat/internal/testutil"
)

func TestParse(t *testing.T) {
	defs, err := experiments.Parse([]byte(`
experiments:
  feed_strategy:
    name: Feed strategy
    variants: [original, default]
    goals: [user_creates_reaction]
  banner:
    variants: [control, bold]
    weights: [2, 1]
    keep_variant: true
    closed: true
    use_events: true
    ended_at: 2024-02-01T00:00:00Z
`))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	banner, feed := defs[0], defs[1]
	assert.Equal(t, "banner", banner.ID)
	assert.Equal(t, "banner", banner.Name)
	assert.Equal(t, []float64{2, 1}, banner.Weights)
	assert.True(t, banner.KeepVariant)
	assert.True(t, banner.Closed)
	assert.True(t, banner.UseEvents)
	assert.False(t, banner.EndedAt.IsZero())
	assert.True(t, banner.StartedAt.IsZero())

	assert.Equal(t, "Feed strategy", feed.Name)
	assert.Equal(t, []string{"user_creates_reaction"}, feed.Goals)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := experiments.Parse([]byte("experiments: [unclosed"))
	assert.Error(t, err)
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := experiments.Parse([]byte("experiments:\n  x:\n    variants: [a, b]\n    weight: [3, 1]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weight")
}

func TestParse_Empty(t *testing.T) {
	defs, err := experiments.Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.yml")
	require.NoError(t, os.WriteFile(path, []byte(bannerYAML), 0o644))

	defs, err := experiments.LoadFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, []string{"control", "bold"}, defs[0].Variants)

	_, err = experiments.LoadFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestNewRegistry_Defaults(t *testing.T) {
	reg, _ := setup(t, `
experiments:
  banner:
    variants: [control, bold, italic]
`)
	e, err := reg.Get("banner")
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 1, 1}, e.Weights)
	assert.Equal(t, []string{experiments.DefaultGoal}, e.Goals)
	assert.Equal(t, "control", e.Control())
	for _, p := range e.Probabilities() {
		assert.InDelta(t, 1.0/3.0, p, 1e-12)
	}
}

func TestNewRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{"no variants", "experiments:\n  x:\n    variants: []\n"},
		{"repeated variant", "experiments:\n  x:\n    variants: [a, a]\n"},
		{"weight count", "experiments:\n  x:\n    variants: [a, b]\n    weights: [1]\n"},
		{"negative weight", "experiments:\n  x:\n    variants: [a, b]\n    weights: [1, -1]\n"},
		{"zero weights", "experiments:\n  x:\n    variants: [a, b]\n    weights: [0, 0]\n"},
		{"unknown winner", "experiments:\n  x:\n    variants: [a, b]\n    winner: c\n"},
		{"window reversed", "experiments:\n  x:\n    variants: [a, b]\n    started_at: 2024-02-01T00:00:00Z\n    ended_at: 2024-01-01T00:00:00Z\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs, err := experiments.Parse([]byte(tt.yml))
			require.NoError(t, err)
			_, err = experiments.NewRegistry(testutil.SetupTestStore(t), defs)
			assert.ErrorIs(t, err, experiments.ErrInvalidExperiment)
		})
	}
}

func TestNewRegistry_DuplicateID(t *testing.T) {
	defs := []*experiments.Experiment{
		{ID: "x", Variants: []string{"a"}},
		{ID: "x", Variants: []string{"b"}},
	}
	_, err := experiments.NewRegistry(testutil.SetupTestStore(t), defs)
	assert.ErrorIs(t, err, experiments.ErrInvalidExperiment)
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg, _ := setup(t, bannerYAML)

	_, err := reg.Get("nope")
	assert.ErrorIs(t, err, experiments.ErrExperimentNotFound)
}

func TestRegistry_List(t *testing.T) {
	reg, _ := setup(t, `
experiments:
  zeta:
    variants: [a, b]
  alpha:
    variants: [a, b]
`)
	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "zeta", list[1].ID)
}

func TestRegistry_DeclareAndClearWinner(t *testing.T) {
	reg, st := setup(t, bannerYAML)
	ctx := context.Background()

	before, _ := reg.Get("banner")
	require.NoError(t, reg.DeclareWinner(ctx, "banner", "bold"))

	after, _ := reg.Get("banner")
	assert.Equal(t, "bold", after.Winner)
	assert.Empty(t, before.Winner, "handed-out experiments never change")

	winners, err := st.Winners(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bold", winners["banner"])

	err = reg.DeclareWinner(ctx, "banner", "italic")
	assert.ErrorIs(t, err, experiments.ErrUnknownVariant)
	err = reg.DeclareWinner(ctx, "nope", "bold")
	assert.ErrorIs(t, err, experiments.ErrExperimentNotFound)

	require.NoError(t, reg.ClearWinner(ctx, "banner"))
	cleared, _ := reg.Get("banner")
	assert.Empty(t, cleared.Winner)
}

func TestRegistry_ApplyWinners(t *testing.T) {
	st := testutil.SetupTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.SetWinner(ctx, "banner", "bold"))
	require.NoError(t, st.SetWinner(ctx, "gone", "x"))
	require.NoError(t, st.SetWinner(ctx, "cta", "removed"))

	defs, err := experiments.Parse([]byte(`
experiments:
  banner:
    variants: [control, bold]
  cta:
    variants: [a, b]
`))
	require.NoError(t, err)
	reg, err := experiments.NewRegistry(st, defs)
	require.NoError(t, err)
	require.NoError(t, reg.ApplyWinners(ctx))

	banner, _ := reg.Get("banner")
	assert.Equal(t, "bold", banner.Winner)
	cta, _ := reg.Get("cta")
	assert.Empty(t, cta.Winner)

	v, err := banner.Variant(ctx, []experiments.Participant{user("1")}, experiments.VariantOptions{})
	require.NoError(t, err)
	assert.Equal(t, "bold", v)
}

func TestRefresher_RefreshOnce(t *testing.T) {
	reg, st := setup(t, `
experiments:
  banner:
    variants: [control, bold]
  onboarding:
    variants: [short, long]
    goals: [signup, first_post]
`)
	ctx := context.Background()

	_, _, err := st.InsertMembership(ctx, store.Membership{ParticipantType: "user", ParticipantID: "1", Experiment: "banner", Variant: "bold"})
	require.NoError(t, err)

	require.NoError(t, experiments.NewRefresher(reg, 0).RefreshOnce(ctx))
	assert.Equal(t, 2, reg.WinProbabilities().Len())
}

func TestRefresher_RunStopsWithContext(t *testing.T) {
	reg, _ := setup(t, bannerYAML)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		experiments.NewRefresher(reg, 10*time.Millisecond).Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/submesh/align"
	"github.com/kwv/submesh/objmap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func results() *align.AlignmentResults {
	T := objmap.Translation(r3.Vector{X: 2, Y: -1, Z: 0.5})
	return &align.AlignmentResults{
		NumA: 2, NumB: 2,
		Pairs: []align.PairResult{
			{A: 0, B: 0, Associations: []align.Association{{A: 3, B: 1}, {A: 0, B: 2}, {A: 1, B: 0}}, Transform: &T},
			{A: 0, B: 1},
			{A: 1, B: 0, GravityRejected: true, Err: errors.New("tilted")},
			{A: 1, B: 1},
		},
	}
}

func TestSaveAndLoadRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	params := align.DefaultRegistrationParams()
	params.UseGravity = true

	run, err := s.SaveRun(ctx, "a.json", "b.json", params, results())
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "a.json", got.MapA)
	assert.Equal(t, "b.json", got.MapB)
	assert.Equal(t, 2, got.SubmapsA)
	assert.Equal(t, params, got.Params)
	assert.True(t, run.CreatedAt.Equal(got.CreatedAt))

	pairs, err := s.Pairs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, pairs, 2, "empty pairs are not stored")

	assert.Equal(t, 0, pairs[0].SubmapA)
	assert.Equal(t, []align.Association{{A: 3, B: 1}, {A: 0, B: 2}, {A: 1, B: 0}}, pairs[0].Associations)
	require.NotNil(t, pairs[0].Transform)
	assert.Equal(t, r3.Vector{X: 2, Y: -1, Z: 0.5}, pairs[0].Transform.Translation())

	assert.Equal(t, 1, pairs[1].SubmapA)
	assert.True(t, pairs[1].GravityRejected)
	assert.Equal(t, "tilted", pairs[1].Error)
	assert.Nil(t, pairs[1].Transform)
	assert.Empty(t, pairs[1].Associations)
}

func TestListAndDeleteRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)

	r1, err := s.SaveRun(ctx, "a", "b", align.DefaultRegistrationParams(), results())
	require.NoError(t, err)
	r2, err := s.SaveRun(ctx, "a", "c", align.DefaultRegistrationParams(), &align.AlignmentResults{})
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID, r2.ID)

	runs, err = s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	require.NoError(t, s.DeleteRun(ctx, r1.ID))
	_, err = s.GetRun(ctx, r1.ID)
	assert.True(t, errors.Is(err, ErrRunNotFound))

	pairs, err := s.Pairs(ctx, r1.ID)
	require.NoError(t, err)
	assert.Empty(t, pairs, "pairs cascade with the run")

	assert.True(t, errors.Is(s.DeleteRun(ctx, r1.ID), ErrRunNotFound))
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	run, err := s.SaveRun(context.Background(), "a", "b", align.DefaultRegistrationParams(), results())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.GetRun(context.Background(), run.ID)
	assert.NoError(t, err)
}

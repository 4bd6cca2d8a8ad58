package profile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/vmrt/vm"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "profile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// clock returns successive minutes starting at a fixed instant.
func clock() func() time.Time {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	snap := vm.Snapshot{
		Routines: []vm.RoutineSample{
			{Entry: 0, Invocations: 1},
			{Entry: 42, Invocations: 1500, Hot: true},
		},
		Opcodes: []vm.OpcodeSample{
			{Opcode: vm.OpAdd, Count: 3000},
			{Opcode: vm.OpRet, Count: 1501},
		},
	}
	id, err := s.Save(ctx, "prog.vmi", 0, snap)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestStore_LoadMissing(t *testing.T) {
	s := openStore(t)
	_, err := s.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStore_RunsNewestFirst(t *testing.T) {
	s := openStore(t)
	s.now = clock()
	ctx := context.Background()

	first, err := s.Save(ctx, "a.vmi", 0, vm.Snapshot{})
	require.NoError(t, err)
	second, err := s.Save(ctx, "b.vmi", 7, vm.Snapshot{})
	require.NoError(t, err)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, "b.vmi", runs[0].Image)
	assert.Equal(t, 7, runs[0].Entry)
	assert.Equal(t, first, runs[1].ID)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))
}

func TestStore_HotRoutines(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, "prog.vmi", 0, vm.Snapshot{Routines: []vm.RoutineSample{
		{Entry: 10, Invocations: 2000, Hot: true},
		{Entry: 20, Invocations: 1200, Hot: true},
		{Entry: 30, Invocations: 5},
	}})
	require.NoError(t, err)
	_, err = s.Save(ctx, "prog.vmi", 0, vm.Snapshot{Routines: []vm.RoutineSample{
		{Entry: 20, Invocations: 1500, Hot: true},
	}})
	require.NoError(t, err)
	_, err = s.Save(ctx, "other.vmi", 0, vm.Snapshot{Routines: []vm.RoutineSample{
		{Entry: 99, Invocations: 9000, Hot: true},
	}})
	require.NoError(t, err)

	hot, err := s.HotRoutines(ctx, "prog.vmi")
	require.NoError(t, err)
	assert.Equal(t, []int{20, 10}, hot)
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.db")
	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.Save(context.Background(), "prog.vmi", 0, vm.Snapshot{
		Opcodes: []vm.OpcodeSample{{Opcode: vm.OpNop, Count: 1}},
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []vm.OpcodeSample{{Opcode: vm.OpNop, Count: 1}}, got.Opcodes)
	assert.Nil(t, got.Routines)
}

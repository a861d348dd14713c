package solver

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func matrix(g *G.ExprGraph, name string, rows, cols int, fill float32) *G.Node {
	data := make([]float32, rows*cols)
	for i := range data {
		data[i] = fill + float32(i)
	}
	return G.NewMatrix(g, tensor.Float32,
		G.WithShape(rows, cols),
		G.WithName(name),
		G.WithValue(tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))))
}

func TestSaverPrunesOldCheckpoints(t *testing.T) {
	dir := t.TempDir()
	g := G.NewGraph()
	nodes := G.Nodes{matrix(g, "a", 2, 3, 1), matrix(g, "b", 1, 4, 10)}

	saver, err := NewSaver(dir, 2)
	require.NoError(t, err)
	for _, step := range []int64{0, 5, 10} {
		_, err := saver.Save(step, nodes)
		require.NoError(t, err)
	}

	assert.NoDirExists(t, filepath.Join(dir, "model.ckpt-0"))
	assert.DirExists(t, filepath.Join(dir, "model.ckpt-5"))
	assert.FileExists(t, filepath.Join(dir, "model.ckpt-10", "a.npy"))
	assert.FileExists(t, filepath.Join(dir, "model.ckpt-10", "b.npy"))
	assert.Equal(t, []string{
		filepath.Join(dir, "model.ckpt-5"),
		filepath.Join(dir, "model.ckpt-10"),
	}, saver.Checkpoints())

	latest, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model.ckpt-10"), latest)

	// A new saver continues pruning from the index.
	again, err := NewSaver(dir, 2)
	require.NoError(t, err)
	_, err = again.Save(15, nodes)
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(dir, "model.ckpt-5"))
	assert.Len(t, again.Checkpoints(), 2)
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()
	saver, err := NewSaver(dir, 1)
	require.NoError(t, err)

	src := G.NewGraph()
	path, err := saver.Save(1, G.Nodes{matrix(src, "a", 2, 3, 1)})
	require.NoError(t, err)

	t.Run("copies values", func(t *testing.T) {
		dst := G.NewGraph()
		a := matrix(dst, "a", 2, 3, 100)
		require.NoError(t, Restore(path, G.Nodes{a}))
		assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, a.Value().Data())
	})

	t.Run("shape mismatch", func(t *testing.T) {
		dst := G.NewGraph()
		require.Error(t, Restore(path, G.Nodes{matrix(dst, "a", 3, 2, 0)}))
	})

	t.Run("unknown node", func(t *testing.T) {
		dst := G.NewGraph()
		require.Error(t, Restore(path, G.Nodes{matrix(dst, "c", 2, 3, 0)}))
	})

	t.Run("missing checkpoint", func(t *testing.T) {
		dst := G.NewGraph()
		require.Error(t, Restore(filepath.Join(dir, "model.ckpt-99"), G.Nodes{matrix(dst, "a", 2, 3, 0)}))
	})
}

func TestLatestCheckpointWithoutIndex(t *testing.T) {
	_, err := LatestCheckpoint(t.TempDir())
	require.Error(t, err)
}

func readEvents(t *testing.T, dir string) []Event {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, SummaryFile))
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestSummaryWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSummaryWriter(dir)
	require.NoError(t, err)
	require.NotEmpty(t, w.Run())

	require.NoError(t, w.AddScalar("loss", 0, 1.5))
	require.NoError(t, w.AddScalar("loss", 10, 0.25))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.Error(t, w.AddScalar("loss", 20, 0.1))

	events := readEvents(t, dir)
	require.Len(t, events, 2)
	assert.Equal(t, int64(10), events[1].Step)
	assert.Equal(t, 0.25, events[1].Value)
	assert.Equal(t, "loss", events[0].Tag)
	assert.Equal(t, w.Run(), events[0].Run)
	assert.Positive(t, events[0].WallTime)

	// Reopening appends under a new run id.
	w2, err := NewSummaryWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w2.AddScalar("loss", 0, 2))
	require.NoError(t, w2.Close())

	events = readEvents(t, dir)
	require.Len(t, events, 3)
	assert.NotEqual(t, events[0].Run, events[2].Run)
}

package solver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	checkpointPrefix = "model.ckpt"
	checkpointIndex  = "checkpoint"
)

// checkpointState is the content of the index file kept next to the
// checkpoints. Paths are relative to the index directory.
type checkpointState struct {
	ModelCheckpointPath     string   `json:"model_checkpoint_path"`
	AllModelCheckpointPaths []string `json:"all_model_checkpoint_paths"`
}

// Saver writes learnable values to numbered checkpoint directories and keeps
// only the newest maxToKeep of them.
type Saver struct {
	dir       string
	maxToKeep int
	state     checkpointState
}

// NewSaver creates a Saver for dir, picking up an existing index so older
// checkpoints keep being pruned across runs.
func NewSaver(dir string, maxToKeep int) (*Saver, error) {
	if maxToKeep <= 0 {
		maxToKeep = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create checkpoint directory %q", dir)
	}

	s := &Saver{dir: dir, maxToKeep: maxToKeep}
	state, err := readIndex(dir)
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, err
	}
	if err == nil {
		s.state = *state
	}
	return s, nil
}

// Save writes every node as <name>.npy into dir/model.ckpt-<step> and returns
// that path.
func (s *Saver) Save(step int64, nodes G.Nodes) (string, error) {
	name := fmt.Sprintf("%s-%d", checkpointPrefix, step)
	path := filepath.Join(s.dir, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", errors.Wrapf(err, "create checkpoint %q", path)
	}

	for _, n := range nodes {
		dense, err := denseValue(n)
		if err != nil {
			return "", err
		}
		if err := writeNpy(filepath.Join(path, n.Name()+".npy"), dense); err != nil {
			return "", err
		}
	}

	paths := make([]string, 0, len(s.state.AllModelCheckpointPaths)+1)
	for _, p := range s.state.AllModelCheckpointPaths {
		if p != name {
			paths = append(paths, p)
		}
	}
	paths = append(paths, name)
	for len(paths) > s.maxToKeep {
		if err := os.RemoveAll(filepath.Join(s.dir, paths[0])); err != nil {
			return "", errors.Wrapf(err, "remove old checkpoint %q", paths[0])
		}
		paths = paths[1:]
	}
	s.state = checkpointState{ModelCheckpointPath: name, AllModelCheckpointPaths: paths}

	if err := writeIndex(s.dir, &s.state); err != nil {
		return "", err
	}
	return path, nil
}

// Checkpoints returns the retained checkpoint paths, oldest first.
func (s *Saver) Checkpoints() []string {
	out := make([]string, len(s.state.AllModelCheckpointPaths))
	for i, p := range s.state.AllModelCheckpointPaths {
		out[i] = filepath.Join(s.dir, p)
	}
	return out
}

// LatestCheckpoint returns the newest checkpoint recorded in dir's index.
func LatestCheckpoint(dir string) (string, error) {
	state, err := readIndex(dir)
	if err != nil {
		return "", err
	}
	if state.ModelCheckpointPath == "" {
		return "", errors.Errorf("no checkpoint recorded in %q", dir)
	}
	return filepath.Join(dir, state.ModelCheckpointPath), nil
}

// Restore copies the values saved at path into nodes. Every node must have
// a saved value of the same shape.
func Restore(path string, nodes G.Nodes) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "checkpoint %q", path)
	}
	if !info.IsDir() {
		return errors.Errorf("checkpoint %q is not a directory", path)
	}

	for _, n := range nodes {
		dst, err := denseValue(n)
		if err != nil {
			return err
		}
		src, err := readNpy(filepath.Join(path, n.Name()+".npy"))
		if err != nil {
			return err
		}
		if !src.Shape().Eq(dst.Shape()) {
			return errors.Errorf("checkpoint %q: %s has shape %v, want %v", path, n.Name(), src.Shape(), dst.Shape())
		}
		if src.Dtype() != tensor.Float32 || dst.Dtype() != tensor.Float32 {
			return errors.Errorf("checkpoint %q: %s has dtype %v, want %v", path, n.Name(), src.Dtype(), tensor.Float32)
		}
		copy(dst.Float32s(), src.Float32s())
	}
	return nil
}

func denseValue(n *G.Node) (*tensor.Dense, error) {
	v := n.Value()
	if v == nil {
		return nil, errors.Errorf("node %s has no value", n.Name())
	}
	dense, ok := v.(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("node %s holds %T, want *tensor.Dense", n.Name(), v)
	}
	return dense, nil
}

func writeNpy(path string, t *tensor.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %q", path)
	}
	if err := t.WriteNpy(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %q", path)
	}
	return errors.Wrapf(f.Close(), "close %q", path)
}

func readNpy(path string) (*tensor.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %q", path)
	}
	defer f.Close()

	t := new(tensor.Dense)
	if err := t.ReadNpy(f); err != nil {
		return nil, errors.Wrapf(err, "read %q", path)
	}
	return t, nil
}

func readIndex(dir string) (*checkpointState, error) {
	b, err := os.ReadFile(filepath.Join(dir, checkpointIndex))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var state checkpointState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, errors.Wrapf(err, "parse checkpoint index in %q", dir)
	}
	return &state, nil
}

func writeIndex(dir string, state *checkpointState) error {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	tmp := filepath.Join(dir, checkpointIndex+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrap(err, "write checkpoint index")
	}
	return errors.Wrap(os.Rename(tmp, filepath.Join(dir, checkpointIndex)), "write checkpoint index")
}

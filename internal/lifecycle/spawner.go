package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"go-arbor/internal/core/ports"
	"go-arbor/internal/domain"
)

// ExecSpawner starts workers as separate OS processes running
// `<binary> <id> <connect-address>`. Children inherit the environment and
// the standard streams.
type ExecSpawner struct {
	binary string
	logger *zap.Logger
}

var _ ports.Spawner = (*ExecSpawner)(nil)

func NewExecSpawner(binary string, logger *zap.Logger) *ExecSpawner {
	return &ExecSpawner{binary: binary, logger: logger}
}

func (s *ExecSpawner) Spawn(ctx context.Context, id domain.NodeID, connectAddr string) (int, error) {
	path, err := ResolveBinary(s.binary)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrSpawnFailed, err)
	}

	// Not CommandContext: the worker must outlive the request that spawned it
	cmd := exec.Command(path, strconv.Itoa(int(id)), connectAddr)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: start %s: %v", domain.ErrSpawnFailed, path, err)
	}

	pid := cmd.Process.Pid
	go func() {
		err := cmd.Wait()
		if err != nil {
			s.logger.Warn("worker exited", zap.Stringer("worker", id), zap.Int("pid", pid), zap.Error(err))
			return
		}
		s.logger.Debug("worker exited", zap.Stringer("worker", id), zap.Int("pid", pid))
	}()
	return pid, nil
}

// ResolveBinary finds name on PATH, falling back to a sibling of the running
// executable so a freshly built pair of binaries works without installation.
func ResolveBinary(name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", err
		}
		return name, nil
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	sibling := filepath.Join(filepath.Dir(self), filepath.Base(name))
	if _, err := os.Stat(sibling); err != nil {
		return "", errors.Join(fmt.Errorf("worker binary %q not found on PATH or next to %s", name, self), err)
	}
	return sibling, nil
}

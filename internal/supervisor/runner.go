package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"go.uber.org/zap"
)

// ExecRunner launches worker processes by re-executing the current binary
// with the worker subcommand.
type ExecRunner struct {
	configPath string
	logger     *zap.Logger
}

// NewExecRunner builds an ExecRunner. configPath, when set, is forwarded to
// the worker so both processes read the same configuration.
func NewExecRunner(configPath string, logger *zap.Logger) *ExecRunner {
	return &ExecRunner{configPath: configPath, logger: logger}
}

// Start spawns `<self> worker --account-id N`. The child outlives ctx: its
// lifecycle is driven by signals from the supervisor, not by the reconcile
// cycle that launched it.
func (r *ExecRunner) Start(_ context.Context, accountID int64) (Process, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}

	args := []string{"worker", "--account-id", strconv.FormatInt(accountID, 10)}
	if r.configPath != "" {
		args = append(args, "--config", r.configPath)
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn worker for account %d: %w", accountID, err)
	}
	r.logger.Info("worker process spawned",
		zap.Int64("account_id", accountID), zap.Int("pid", cmd.Process.Pid))

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		if err := cmd.Wait(); err != nil {
			r.logger.Warn("worker process exited",
				zap.Int64("account_id", accountID), zap.Int("pid", cmd.Process.Pid), zap.Error(err))
		}
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *execProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

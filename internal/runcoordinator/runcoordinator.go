// Package runcoordinator implements the Run Coordinator (spec.md §4.9):
// materializing a FileTree into an instance's workspace, injecting the
// entry point into its attached PTY, and probing whether the resulting
// process opened a graphical window. Grounded bit-exactly on
// original_source/app/main.py's run_code handler.
package runcoordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/jaewoo-rain/webide-broker/internal/errors"
	"github.com/jaewoo-rain/webide-broker/internal/logger"
	"github.com/jaewoo-rain/webide-broker/internal/orchestrator"
	"github.com/jaewoo-rain/webide-broker/internal/sessions"
	"github.com/jaewoo-rain/webide-broker/internal/workspace"
)

// graphicalProbeAttempts and graphicalProbeInterval are fixed per
// SPEC_FULL.md's Open Question 2: the source's 5 x 200ms polling loop,
// left unconfigurable since the spec declines to extend it.
const (
	graphicalProbeAttempts = 5
	graphicalProbeInterval = 200 * time.Millisecond
)

// Mode is the outcome of Run: whether the entry point opened a graphical
// window within the probe window, or stayed a plain CLI process.
type Mode string

const (
	ModeGUI Mode = "gui"
	ModeCLI Mode = "cli"
)

// Coordinator runs an entry point inside an instance's attached PTY.
type Coordinator struct {
	adapter      orchestrator.Adapter
	registry     *sessions.Registry
	materializer *workspace.Materializer
	pythonPath   string
	workspaceDir string
}

// New constructs a Coordinator. pythonPath is the interpreter injected into
// the PTY (original_source uses "/tmp/user_venv/bin/python").
func New(adapter orchestrator.Adapter, registry *sessions.Registry, materializer *workspace.Materializer, pythonPath, workspaceDir string) *Coordinator {
	return &Coordinator{adapter: adapter, registry: registry, materializer: materializer, pythonPath: pythonPath, workspaceDir: workspaceDir}
}

// Run looks up the live session for sessionID (failing NoSession when none
// is attached), materializes tree/fileMap into instance's workspace
// (honoring policy), kills any previously running workspace process,
// injects the entryID file's interpreter command into the session's PTY,
// and probes for a graphical window.
func (c *Coordinator) Run(ctx context.Context, instance *orchestrator.Instance, sessionID string, tree *workspace.Node, fileMap map[string]workspace.Entry, entryID string, policy workspace.PurgePolicy) (Mode, *apperrors.AppError) {
	log := logger.Instances()

	sess, aerr := c.registry.Get(sessionID)
	if aerr != nil {
		return "", aerr
	}

	entryPath, err := c.materializer.Materialize(ctx, instance, tree, fileMap, entryID, policy)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "failed to materialize workspace", err)
	}

	if entryPath == "" {
		return "", apperrors.NoEntry(entryID)
	}

	if _, err := c.adapter.Exec(ctx, instance, []string{"bash", "-c", fmt.Sprintf("pkill -f '%s' || true", c.workspaceDir)}, orchestrator.ExecOptions{}); err != nil {
		log.Warn().Err(err).Msg("failed to pkill prior workspace process")
	}

	cmd := fmt.Sprintf("%s '%s'\n", c.pythonPath, entryPath)
	if _, werr := sess.PTY.Write([]byte(cmd)); werr != nil {
		log.Warn().Err(werr).Str("session_id", sessionID).Msg("failed to inject run command")
	}

	for i := 0; i < graphicalProbeAttempts; i++ {
		check, err := c.adapter.Exec(ctx, instance,
			[]string{"bash", "-c", `DISPLAY=:1 xwininfo -root -tree | grep -E '"[^ ]+"' && echo yes || echo no`},
			orchestrator.ExecOptions{})
		if err == nil && strings.Contains(check.Stdout, "yes") {
			return ModeGUI, nil
		}
		if i < graphicalProbeAttempts-1 {
			time.Sleep(graphicalProbeInterval)
		}
	}

	return ModeCLI, nil
}

// Save materializes tree/fileMap into instance's workspace without
// injecting any run command or probing — the /save operation (spec.md §6).
func (c *Coordinator) Save(ctx context.Context, instance *orchestrator.Instance, tree *workspace.Node, fileMap map[string]workspace.Entry, policy workspace.PurgePolicy) *apperrors.AppError {
	if _, err := c.materializer.Materialize(ctx, instance, tree, fileMap, "", policy); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "failed to materialize workspace", err)
	}
	return nil
}

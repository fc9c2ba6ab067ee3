package runorch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/voratiq/voratiq/internal/types"
)

// runEvals runs every enabled eval command with cwd=workspace, recording
// each one's pass/fail status and exit code and writing its combined
// output to evalsDir/<slug>.log. Eval failures are reported on the
// returned results but never abort the run or change the competing
// agent's own status.
func runEvals(ctx context.Context, workspace, evalsDir string, evals []types.EvalDefinition) []types.EvalResult {
	var results []types.EvalResult
	for _, e := range evals {
		if !e.IsEnabled() {
			continue
		}
		results = append(results, runEval(ctx, workspace, filepath.Join(evalsDir, e.Slug+".log"), e))
	}
	return results
}

func runEval(ctx context.Context, workspace, logPath string, e types.EvalDefinition) types.EvalResult {
	result := types.EvalResult{Slug: e.Slug, Status: "fail"}

	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return result
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return result
	}
	defer f.Close()
	result.HasLog = true

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Dir = workspace
	cmd.Stdout = f
	cmd.Stderr = f

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		return result
	}

	result.Status = "pass"
	return result
}

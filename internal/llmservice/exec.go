package llmservice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// waitDelay bounds how long output pipes are drained after the process was killed.
const waitDelay = 5 * time.Second

// ExecGenerator runs a local model process per prompt, e.g. `ollama run mistral`,
// writing the prompt to its stdin and reading the answer from stdout.
type ExecGenerator struct {
	command string
	args    []string
	timeout time.Duration
}

// NewExecGenerator returns a generator for command args. A timeout <= 0 waits
// for the process indefinitely.
func NewExecGenerator(command string, args []string, timeout time.Duration) *ExecGenerator {
	return &ExecGenerator{command: command, args: args, timeout: timeout}
}

func (g *ExecGenerator) Generate(ctx context.Context, prompt string) string {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	log.Debug().Str("command", g.command).Strs("args", g.args).Int("prompt_len", len(prompt)).Msg("Running model")

	// the process is killed when ctx expires
	cmd := exec.CommandContext(ctx, g.command, g.args...)
	cmd.WaitDelay = waitDelay
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	out := decode(stdout.Bytes())
	diag := decode(stderr.Bytes())
	log.Debug().Dur("took", time.Since(start)).Int("stdout_len", len(out)).Msg("Model finished")

	if isOutOfMemory(diag) {
		log.Warn().Str("stderr", diag).Msg("Model ran out of memory")
		return MsgOutOfMemory
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Warn().Dur("timeout", g.timeout).Msg("Model timed out")
			return MsgTimeout
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Error().Int("exit_code", exitErr.ExitCode()).Str("stderr", diag).Msg("Model process failed")
			return fmt.Sprintf(msgProcessError, diag)
		}
		log.Error().Err(err).Msg("Could not run model process")
		return fmt.Sprintf(msgUnexpected, err)
	}

	if out == "" {
		return MsgNoResponse
	}
	return out
}

// decode drops invalid UTF-8 and surrounding whitespace.
func decode(b []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(b), ""))
}

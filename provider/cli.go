package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/c360studio/docscope/issue"
)

// killGrace is how long a cancelled child process gets between SIGKILL and
// abandoning the wait.
const killGrace = 2 * time.Second

// maxOutputSize limits captured agent output to prevent memory exhaustion.
const maxOutputSize = 10 * 1024 * 1024 // 10MB

// fatalMarkers are stderr substrings that indicate a non-retryable failure.
var fatalMarkers = []string{
	"authentication",
	"unauthorized",
	"invalid api key",
	"api key not found",
	"prompt rejected",
	"invalid prompt",
}

// CLIProvider invokes an external AI agent binary. The prompt is delivered
// on stdin; the response is read from stdout.
type CLIProvider struct {
	name    string
	binary  string
	timeout time.Duration

	// buildArgs produces the argument list for the given write mode.
	buildArgs func(writeMode bool) []string

	// parseOutput normalizes stdout into a Result. nil treats stdout as
	// plain text with no usage accounting.
	parseOutput func(stdout []byte) (*Result, error)

	// transientExits flags exit codes that are worth retrying.
	transientExits map[int]bool
}

// Name returns the provider identifier.
func (p *CLIProvider) Name() string {
	return p.name
}

// Invoke runs the agent once. The child is started in opts.WorkDir and killed
// on context cancellation; killGrace bounds how long the wait can linger
// after the kill.
func (p *CLIProvider) Invoke(ctx context.Context, prompt string, opts Options) (*Result, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = p.timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	cmd := exec.CommandContext(attemptCtx, p.binary, p.buildArgs(opts.WriteMode)...)
	cmd.Dir = opts.WorkDir
	cmd.Stdin = strings.NewReader(prompt)
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		// Distinguish cancellation and per-attempt timeout from agent
		// failure: the context error takes precedence.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attemptCtx.Err() != nil {
			return nil, fmt.Errorf("provider %s timed out after %s: %w", p.name, timeout, context.DeadlineExceeded)
		}
		return nil, p.classify(err, stderr.String())
	}

	out := stdout.Bytes()
	if len(out) > maxOutputSize {
		out = out[:maxOutputSize]
	}

	var result *Result
	if p.parseOutput != nil {
		result, err = p.parseOutput(out)
		if err != nil {
			// Unparseable output still carries the raw text; the caller's
			// issue extraction decides whether that is fatal.
			result = &Result{Text: string(out)}
		}
	} else {
		result = &Result{Text: string(out)}
	}
	result.Duration = elapsed

	return result, nil
}

// classify maps a subprocess failure to a transient or fatal error.
func (p *CLIProvider) classify(err error, stderr string) error {
	msg := strings.ToLower(stderr)
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return NewFatalError(fmt.Errorf("provider %s: %s", p.name, firstLine(stderr)))
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		wrapped := fmt.Errorf("provider %s exit status %d: %s", p.name, code, firstLine(stderr))
		if p.transientExits[code] {
			return NewTransientError(wrapped)
		}
		// Unknown exit codes are treated as transient provider failures;
		// fatal conditions are recognized by stderr markers above.
		return NewTransientError(wrapped)
	}

	// Spawn failures (missing binary, permissions) are fatal.
	return NewFatalError(fmt.Errorf("provider %s: %w", p.name, err))
}

// claudeOutput is the claude CLI's --output-format json envelope.
type claudeOutput struct {
	Result       string  `json:"result"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Usage        struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
	IsError bool `json:"is_error"`
}

// parseClaudeOutput normalizes the claude CLI's JSON envelope.
func parseClaudeOutput(stdout []byte) (*Result, error) {
	var out claudeOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return nil, fmt.Errorf("parse claude output: %w", err)
	}
	if out.IsError {
		return nil, fmt.Errorf("claude reported error: %s", firstLine(out.Result))
	}
	return &Result{
		Text:    out.Result,
		CostUSD: out.TotalCostUSD,
		Usage: issue.Usage{
			Input:       out.Usage.InputTokens,
			Output:      out.Usage.OutputTokens,
			CacheCreate: out.Usage.CacheCreationInputTokens,
			CacheRead:   out.Usage.CacheReadInputTokens,
		},
	}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

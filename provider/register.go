package provider

import "time"

// Known agent CLIs are registered at init. The random provider is registered
// separately so tests can install a seeded instance.
func init() {
	Register(&CLIProvider{
		name:    "claude",
		binary:  "claude",
		timeout: 120 * time.Second,
		buildArgs: func(writeMode bool) []string {
			args := []string{"-p", "--output-format", "json"}
			if writeMode {
				args = append(args, "--permission-mode", "acceptEdits")
			} else {
				args = append(args, "--disallowed-tools", "Write,Edit")
			}
			return args
		},
		parseOutput:    parseClaudeOutput,
		transientExits: map[int]bool{1: true},
	}, "claude")

	Register(&CLIProvider{
		name:    "codex",
		binary:  "codex",
		timeout: 120 * time.Second,
		buildArgs: func(writeMode bool) []string {
			args := []string{"exec", "--json"}
			if !writeMode {
				args = append(args, "--sandbox", "read-only")
			}
			return args
		},
		transientExits: map[int]bool{1: true},
	}, "codex")

	Register(&CLIProvider{
		name:    "opencode",
		binary:  "opencode",
		timeout: 120 * time.Second,
		buildArgs: func(writeMode bool) []string {
			return []string{"run", "--print-logs=false"}
		},
		transientExits: map[int]bool{1: true},
	}, "opencode")

	Register(&CLIProvider{
		name:    "cursor",
		binary:  "cursor-agent",
		timeout: 120 * time.Second,
		buildArgs: func(writeMode bool) []string {
			args := []string{"-p", "--output-format", "text"}
			if writeMode {
				args = append(args, "--force")
			}
			return args
		},
		transientExits: map[int]bool{1: true},
	}, "cursor-agent")

	Register(&CLIProvider{
		name:    "github-copilot",
		binary:  "copilot",
		timeout: 120 * time.Second,
		buildArgs: func(writeMode bool) []string {
			args := []string{"-p"}
			if writeMode {
				args = append(args, "--allow-all-tools")
			}
			return args
		},
		transientExits: map[int]bool{1: true},
	}, "copilot")

	// Production random provider; tests register their own seeded instance.
	Register(NewRandom(time.Now().UnixNano()), "")
}

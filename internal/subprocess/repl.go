// Package subprocess drives external REPL processes as an alternative rule
// engine backend: one persistent process per session, a prompt handshake at
// startup, and sentinel-delimited output framing for each evaluation.
package subprocess

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"reasond/internal/core"
)

// Config describes how to spawn and talk to the external REPL.
type Config struct {
	BinaryPath       string
	Args             []string
	PromptToken      string
	Sentinel         string
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the standard REPL protocol settings.
func DefaultConfig(binary string) Config {
	return Config{
		BinaryPath:       binary,
		PromptToken:      "CLIPS>",
		Sentinel:         "__END__",
		HandshakeTimeout: 5 * time.Second,
	}
}

// Output lines carrying these tokens classify as stderr.
const (
	errorToken       = "[ERROR]"
	errorLinePrefix  = "Error:"
	lineBufferDepth  = 256
	closeGracePeriod = 500 * time.Millisecond
)

// Handler owns one live REPL process. Callers serialize Execute; a Handler
// that reported a crash or timeout stays dead and must be replaced.
type Handler struct {
	cfg   Config
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	dead  atomic.Bool

	writeMu sync.Mutex
}

// Start spawns the process, merges its stdout and stderr line streams and
// waits for the prompt token.
func Start(cfg Config) (*Handler, error) {
	if cfg.BinaryPath == "" {
		return nil, core.NewError(core.KindValidation, "subprocess binary path is empty")
	}
	if cfg.Sentinel == "" {
		cfg.Sentinel = "__END__"
	}
	if cfg.PromptToken == "" {
		cfg.PromptToken = "CLIPS>"
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}

	cmd := exec.Command(cfg.BinaryPath, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, core.WrapError(core.KindProcessCrashed, err, "stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, core.WrapError(core.KindProcessCrashed, err, "stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, core.WrapError(core.KindProcessCrashed, err, "stderr pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, core.WrapError(core.KindProcessCrashed, err, "spawn %s: %v", cfg.BinaryPath, err)
	}

	h := &Handler{
		cfg:   cfg,
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, lineBufferDepth),
	}

	var wg sync.WaitGroup
	pump := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			h.lines <- scanner.Text()
		}
	}
	wg.Add(2)
	go pump(stdout)
	go pump(stderr)
	go func() {
		wg.Wait()
		close(h.lines)
		_ = cmd.Wait()
	}()

	if err := h.handshake(); err != nil {
		h.kill()
		return nil, err
	}
	return h, nil
}

func (h *Handler) handshake() error {
	deadline := time.NewTimer(h.cfg.HandshakeTimeout)
	defer deadline.Stop()
	for {
		select {
		case line, ok := <-h.lines:
			if !ok {
				h.dead.Store(true)
				return core.NewError(core.KindProcessCrashed, "REPL exited before the prompt appeared")
			}
			if strings.Contains(line, h.cfg.PromptToken) {
				return nil
			}
		case <-deadline.C:
			h.dead.Store(true)
			return core.NewError(core.KindProcessCrashed,
				"no prompt within %s", h.cfg.HandshakeTimeout)
		}
	}
}

// Alive reports whether the handler may still execute commands.
func (h *Handler) Alive() bool { return !h.dead.Load() }

// Execute writes the script followed by the sentinel print command and
// collects output lines until the sentinel line arrives. Lines carrying
// error tokens classify as stderr and fail the evaluation. A timeout or
// crash returns an error and permanently kills the handler.
func (h *Handler) Execute(script string, timeout time.Duration) (core.EvalResult, error) {
	if !h.Alive() {
		return core.EvalResult{}, core.NewError(core.KindProcessCrashed, "REPL process is dead")
	}
	// A script that prints the sentinel itself would end the frame early and
	// truncate its own output.
	if strings.Contains(script, h.cfg.Sentinel) {
		return core.EvalResult{}, core.NewError(core.KindValidation,
			"script must not contain the sentinel marker %q", h.cfg.Sentinel)
	}

	start := time.Now()
	sentinelCmd := fmt.Sprintf("(printout t %q crlf)", h.cfg.Sentinel)
	h.writeMu.Lock()
	_, err := io.WriteString(h.stdin, script+"\n"+sentinelCmd+"\n")
	h.writeMu.Unlock()
	if err != nil {
		h.markDead()
		return core.EvalResult{}, core.WrapError(core.KindProcessCrashed, err, "write to REPL: %v", err)
	}

	var stdout, stderr []string
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case line, ok := <-h.lines:
			if !ok {
				h.markDead()
				return core.EvalResult{}, core.NewError(core.KindProcessCrashed, "REPL exited mid-evaluation")
			}
			trimmed := strings.TrimSpace(stripPrompt(line, h.cfg.PromptToken))
			switch {
			case trimmed == h.cfg.Sentinel:
				elapsed := time.Since(start).Milliseconds()
				metrics := core.EvalMetrics{ElapsedMs: elapsed}
				if len(stderr) > 0 {
					return core.Failure(strings.Join(stderr, "\n"), 1,
						"evaluation reported errors", metrics), nil
				}
				return core.Success(strings.Join(stdout, "\n"), metrics), nil
			case trimmed == "":
			case strings.Contains(trimmed, errorToken) || strings.HasPrefix(trimmed, errorLinePrefix):
				stderr = append(stderr, trimmed)
			default:
				stdout = append(stdout, trimmed)
			}
		case <-deadline.C:
			h.markDead()
			return core.EvalResult{}, core.NewError(core.KindEvalTimeout,
				"no sentinel within %s", timeout)
		}
	}
}

func stripPrompt(line, prompt string) string {
	for strings.HasPrefix(line, prompt) {
		line = strings.TrimLeft(strings.TrimPrefix(line, prompt), " ")
	}
	return line
}

func (h *Handler) markDead() {
	if h.dead.CompareAndSwap(false, true) {
		h.kill()
	}
}

func (h *Handler) kill() {
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	_ = h.stdin.Close()
}

// Close asks the REPL to exit and kills it after a grace period.
func (h *Handler) Close() {
	if h.dead.CompareAndSwap(false, true) {
		h.writeMu.Lock()
		_, _ = io.WriteString(h.stdin, "(exit)\n")
		h.writeMu.Unlock()
		_ = h.stdin.Close()

		done := make(chan struct{})
		go func() {
			for range h.lines {
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(closeGracePeriod):
			if h.cmd.Process != nil {
				_ = h.cmd.Process.Kill()
			}
		}
	}
}

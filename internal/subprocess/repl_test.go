package subprocess

import (
	"strings"
	"testing"
	"time"

	"reasond/internal/core"
)

// fakeREPL emulates the external engine: prompt on startup, echoes input,
// recognizes the sentinel print command and a few trigger words.
const fakeREPL = `
echo "CLIPS>"
while read line; do
  case "$line" in
    *__END__*) echo "__END__" ;;
    *error-trigger*) echo "[ERROR] evaluation exploded" ;;
    *crash-trigger*) exit 1 ;;
    *sleep-trigger*) sleep 10 ;;
    *"(exit)"*) exit 0 ;;
    *) echo "$line" ;;
  esac
done
`

func fakeConfig() Config {
	cfg := DefaultConfig("/bin/sh")
	cfg.Args = []string{"-c", fakeREPL}
	cfg.HandshakeTimeout = 2 * time.Second
	return cfg
}

func TestHandshakeAndExecute(t *testing.T) {
	h, err := Start(fakeConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	res, err := h.Execute("(assert (color red))", 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsSuccess() {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Stdout, "(assert (color red))") {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if res.Metrics.ElapsedMs < 0 {
		t.Errorf("elapsed = %d", res.Metrics.ElapsedMs)
	}
}

func TestSentinelInScriptRejected(t *testing.T) {
	h, err := Start(fakeConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	_, err = h.Execute(`(printout t "__END__" crlf)`, 2*time.Second)
	if !core.IsKind(err, core.KindValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
	if !h.Alive() {
		t.Fatal("handler died on a rejected script")
	}

	// The rejected script never reached the process, so a normal evaluation
	// still works.
	res, err := h.Execute("(facts)", 2*time.Second)
	if err != nil || !res.IsSuccess() {
		t.Fatalf("follow-up = %+v, %v", res, err)
	}
}

func TestErrorLinesClassifyAsStderr(t *testing.T) {
	h, err := Start(fakeConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	res, err := h.Execute("(error-trigger)", 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsSuccess() {
		t.Fatalf("error lines ignored: %+v", res)
	}
	if res.ExitCode != 1 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "[ERROR]") {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestExecuteTimeoutKillsHandler(t *testing.T) {
	h, err := Start(fakeConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	_, err = h.Execute("(sleep-trigger)", 200*time.Millisecond)
	if !core.IsKind(err, core.KindEvalTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if h.Alive() {
		t.Error("handler alive after timeout")
	}
	if _, err := h.Execute("(+ 1 2)", time.Second); !core.IsKind(err, core.KindProcessCrashed) {
		t.Errorf("dead handler executed: %v", err)
	}
}

func TestCrashDetection(t *testing.T) {
	h, err := Start(fakeConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	_, err = h.Execute("(crash-trigger)", 2*time.Second)
	if !core.IsKind(err, core.KindProcessCrashed) {
		t.Fatalf("err = %v, want process crashed", err)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	cfg := DefaultConfig("/bin/sh")
	cfg.Args = []string{"-c", "sleep 10"}
	cfg.HandshakeTimeout = 200 * time.Millisecond

	_, err := Start(cfg)
	if !core.IsKind(err, core.KindProcessCrashed) {
		t.Fatalf("err = %v, want process crashed", err)
	}
}

func TestPoolRecreatesOnce(t *testing.T) {
	p := NewPool(fakeConfig())
	defer p.Close()

	res, err := p.Execute("sess-1", "(facts)", 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsSuccess() {
		t.Fatalf("result = %+v", res)
	}

	// Crash the process; the pool must transparently retry on a fresh one.
	if _, err := p.Execute("sess-1", "(crash-trigger)", 2*time.Second); err == nil {
		t.Fatal("crash retried into another crash should fail")
	}
	res, err = p.Execute("sess-1", "(+ 1 2)", 2*time.Second)
	if err != nil {
		t.Fatalf("pool did not recover: %v", err)
	}
	if !res.IsSuccess() {
		t.Fatalf("result = %+v", res)
	}
}

func TestPoolIsolatesSessions(t *testing.T) {
	p := NewPool(fakeConfig())
	defer p.Close()

	if _, err := p.Execute("sess-a", "(facts)", 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Execute("sess-b", "(facts)", 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if p.Size() != 2 {
		t.Errorf("pool size = %d, want 2", p.Size())
	}
	p.Release("sess-a")
	if p.Size() != 1 {
		t.Errorf("pool size after release = %d, want 1", p.Size())
	}
}

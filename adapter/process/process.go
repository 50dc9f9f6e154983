// Package process implements the OS-process pool.Adapter: each pool slot
// is a child process spawned with os/exec, with readiness detected from
// its first line of stdout and usage sampled per-pid.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/serverlesspool/poolengine/pool"
)

// Adapter is the process pool.Adapter. Command names the executable; Args
// is extended with "--port", strconv.Itoa(port) and, when cfg carries
// ScriptFiles, each file path, for a predictable CLI contract an operator
// can script against.
type Adapter struct {
	Command string
	Args    []string

	mu   sync.Mutex
	cmds map[string]*exec.Cmd
}

var _ pool.Adapter = (*Adapter)(nil)

func (a *Adapter) TypeTag() string { return "process" }

func (a *Adapter) Validate(cfg pool.Config) error {
	if a.Command == "" {
		return fmt.Errorf("process adapter: Command is not set")
	}
	return nil
}

// Create starts the child process and waits for its first line of stdout
// before returning, the same "wait for first output" heuristic
// machine/mock.go's MockApi.Start uses in place of a real readiness probe.
// On timeout or cancellation the process is force-killed and no orphan is
// left running.
func (a *Adapter) Create(ctx context.Context, port int, name string, cfg pool.Config) (pool.Native, error) {
	args := append([]string{}, a.Args...)
	args = append(args, "--port", strconv.Itoa(port))
	args = append(args, cfg.ScriptFiles...)

	cmd := exec.Command(a.Command, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("process adapter: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("process adapter: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process adapter: start: %w", err)
	}

	go drainLines(name, "stderr", stderr)

	ready := make(chan error, 1)
	reader := bufio.NewReader(stdout)
	go func() {
		_, _, err := reader.ReadLine()
		ready <- err
	}()

	select {
	case err := <-ready:
		if err != nil {
			cmd.Process.Kill()
			return nil, fmt.Errorf("process adapter: waiting for readiness: %w", err)
		}
	case <-ctx.Done():
		cmd.Process.Kill()
		return nil, ctx.Err()
	}
	go drainLines(name, "stdout", reader)

	a.mu.Lock()
	if a.cmds == nil {
		a.cmds = make(map[string]*exec.Cmd)
	}
	a.cmds[name] = cmd
	a.mu.Unlock()

	return pool.NativeProcess{Pid: cmd.Process.Pid}, nil
}

func drainLines(name, stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		log.Printf("process %s[%s]: %s", name, stream, sc.Text())
	}
}

// Terminate sends the child SIGTERM and waits for it to exit; if it has
// not exited by ctx's deadline it is force-killed. Idempotent: terminating
// a name this adapter never created, or already reaped, is a no-op.
func (a *Adapter) Terminate(ctx context.Context, h *pool.Handle) error {
	a.mu.Lock()
	cmd, ok := a.cmds[h.Name]
	delete(a.cmds, h.Name)
	a.mu.Unlock()
	if !ok {
		return nil
	}

	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("process %s: not exited before deadline, killing", h.Name)
		cmd.Process.Kill()
		<-done
	}
	return nil
}

// Liveness reports whether the process is still tracked by this adapter.
// os.Process offers no direct "is it alive" query, so this relies on the
// tracking map Terminate clears on reap; a child that exits on its own
// stays tracked, and is reported alive, until Terminate runs.
func (a *Adapter) Liveness(ctx context.Context, h *pool.Handle) bool {
	a.mu.Lock()
	cmd, ok := a.cmds[h.Name]
	a.mu.Unlock()
	if !ok || cmd.Process == nil {
		return false
	}
	return cmd.ProcessState == nil
}

// Usage samples per-pid CPU%/RSS with gopsutil.
func (a *Adapter) Usage(ctx context.Context, h *pool.Handle) (*pool.Usage, error) {
	nativeProc, ok := h.Native.(pool.NativeProcess)
	if !ok {
		return nil, nil
	}

	proc, err := gopsprocess.NewProcess(int32(nativeProc.Pid))
	if err != nil {
		return nil, fmt.Errorf("process adapter: open pid %d: %w", nativeProc.Pid, err)
	}

	cpuPercent, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("process adapter: cpu percent: %w", err)
	}

	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("process adapter: memory info: %w", err)
	}

	return &pool.Usage{
		CpuPercent:  cpuPercent,
		MemoryBytes: int64(memInfo.RSS),
		SampledAt:   time.Now().UnixMilli(),
	}, nil
}

func (a *Adapter) OnShutdown() {}

package xray

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"rayscan/internal/logger"

	"github.com/shirou/gopsutil/v3/process"
)

var (
	ErrBinaryNotFound = errors.New("xray binary not found")
	ErrStartupTimeout = errors.New("xray did not report startup in time")
	ErrEarlyExit      = errors.New("xray exited before startup")
)

// recentLines is how much stdout is kept for late token watchers and errors.
const recentLines = 64

// LocateBinary resolves name against PATH (or as a path when it contains a separator).
func LocateBinary(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, name, err)
	}
	return path, nil
}

// Engine describes how to launch the external proxy engine.
type Engine struct {
	Binary string
	Args   []string // placed before "-c <config>"
	Env    []string // appended to the current environment

	KillTimeout  time.Duration
	ReleaseDelay time.Duration
}

// Process is a running engine instance. Its stdout is watched for tokens
// until the process exits.
type Process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error

	mu       sync.Mutex
	recent   []string
	watchers map[*watcher]struct{}

	killTimeout  time.Duration
	releaseDelay time.Duration
	stopOnce     sync.Once
}

type watcher struct {
	token string
	hit   chan struct{}
}

// Start launches the engine with the given config file.
func (e *Engine) Start(ctx context.Context, configPath string) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := append(append([]string{}, e.Args...), "-c", configPath)
	cmd := exec.Command(e.Binary, args...)
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.Stderr = logger.LineWriter("xray")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", e.Binary, err)
	}
	logger.Log.Debugf("xray started: pid %d, config %s", cmd.Process.Pid, configPath)

	p := &Process{
		cmd:          cmd,
		done:         make(chan struct{}),
		watchers:     make(map[*watcher]struct{}),
		killTimeout:  e.KillTimeout,
		releaseDelay: e.ReleaseDelay,
	}
	if p.killTimeout <= 0 {
		p.killTimeout = 3 * time.Second
	}
	go p.monitor(stdout)
	return p, nil
}

func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit status. Only meaningful after Done is closed.
func (p *Process) Err() error {
	return p.err
}

func (p *Process) monitor(stdout io.Reader) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		logger.Log.Debugf("[xray] %s", line)
		p.observe(line)
	}
	// keep the pipe drained if the scanner gave up on an oversized line
	_, _ = io.Copy(io.Discard, stdout)

	p.err = p.cmd.Wait()
	close(p.done)
}

func (p *Process) observe(line string) {
	fields := strings.Fields(line)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.recent = append(p.recent, line)
	if len(p.recent) > recentLines {
		p.recent = p.recent[len(p.recent)-recentLines:]
	}
	for w := range p.watchers {
		if containsToken(fields, w.token) {
			close(w.hit)
			delete(p.watchers, w)
		}
	}
}

// watch registers interest in token. Lines already seen count.
func (p *Process) watch(token string) (<-chan struct{}, func()) {
	w := &watcher{token: token, hit: make(chan struct{})}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, line := range p.recent {
		if containsToken(strings.Fields(line), token) {
			close(w.hit)
			return w.hit, func() {}
		}
	}
	p.watchers[w] = struct{}{}
	return w.hit, func() {
		p.mu.Lock()
		delete(p.watchers, w)
		p.mu.Unlock()
	}
}

func containsToken(fields []string, token string) bool {
	for _, f := range fields {
		if f == token {
			return true
		}
	}
	return false
}

// AwaitStartup blocks until token appears as a whitespace separated word on
// stdout. It fails with ErrEarlyExit if the process dies first and with
// ErrStartupTimeout after timeout. The watcher is always detached on return.
func (p *Process) AwaitStartup(ctx context.Context, token string, timeout time.Duration) (bool, error) {
	hit, detach := p.watch(token)
	defer detach()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-hit:
		return true, nil
	case <-p.done:
		select {
		case <-hit:
			return true, nil
		default:
		}
		return false, fmt.Errorf("%w: %v", ErrEarlyExit, p.exitSummary())
	case <-timer.C:
		return false, fmt.Errorf("%w (%s)", ErrStartupTimeout, timeout)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *Process) exitSummary() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := "exit status unknown"
	if p.err != nil {
		status = p.err.Error()
	} else if p.cmd.ProcessState != nil {
		status = p.cmd.ProcessState.String()
	}
	if n := len(p.recent); n > 0 {
		return fmt.Sprintf("%s, last output: %q", status, p.recent[n-1])
	}
	return status
}

// Stop terminates the engine: SIGTERM first, then kill after the grace
// period. It then waits ReleaseDelay so the OS frees the inbound ports.
// Safe to call more than once and after the process already exited.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		logResidentMemory(p.Pid())

		select {
		case <-p.done:
		default:
			if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				logger.Log.Debugf("SIGTERM failed, killing xray: %v", err)
				_ = p.cmd.Process.Kill()
			}
			select {
			case <-p.done:
			case <-time.After(p.killTimeout):
				logger.Log.Warnf("xray pid %d ignored SIGTERM for %s, killing", p.Pid(), p.killTimeout)
				_ = p.cmd.Process.Kill()
				<-p.done
			}
		}

		if p.releaseDelay > 0 {
			time.Sleep(p.releaseDelay)
		}
	})
	return nil
}

func logResidentMemory(pid int) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return
	}
	logger.Log.Debugf("xray pid %d resident memory %.1f MB", pid, float64(mem.RSS)/(1024*1024))
}

package gates

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"syscall"
	"text/template"
	"time"

	"github.com/steveyegge/kmin/internal/types"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBootTimeout is how long the guest has to call home
	DefaultBootTimeout = 10 * time.Second

	// DefaultGrace is how long the emulator gets to exit after SIGTERM
	DefaultGrace = 5 * time.Second

	// exitLinger keeps accepting briefly after the emulator exits, so a guest
	// that signals and powers off at once is still counted
	exitLinger = 200 * time.Millisecond
)

// BootConfig configures the boot gate
type BootConfig struct {
	// Command is a text/template rendered with .Artifact, .Cmdline, .Port and
	// .Addr, then split like a Bourne shell. .Addr is dialable from the host:
	// a listener on an unspecified address renders as 127.0.0.1:<port>. A guest
	// behind QEMU user networking reaches the host at 10.0.2.2:{{.Port}}.
	Command    string
	Cmdline    string // kernel command line
	Artifact   string // path of the built artifact
	ListenAddr string // host:port for the boot-signal listener
	Timeout    time.Duration
	Grace      time.Duration

	Dir        string
	Env        []string
	ConsoleLog string // optional file receiving the emulator output of the last boot
}

// BootResult is the outcome of one boot attempt
type BootResult struct {
	Gate        GateType
	Outcome     types.BootOutcome
	Peer        string // remote address of the signalling connection
	ExitedEarly bool   // emulator exited before signalling
	Duration    time.Duration
}

// Process is a started emulator. Signal and Kill must reach every process
// the emulator started, including after the emulator itself has exited.
type Process interface {
	Wait() error
	Signal(sig os.Signal) error
	Kill() error
}

// StartFunc starts the emulator process
type StartFunc func(argv []string, dir string, env []string, out io.Writer) (Process, error)

// BootGate runs the artifact in an emulator and waits for the boot signal
type BootGate struct {
	cfg   BootConfig
	tmpl  *template.Template
	start StartFunc
}

type bootVars struct {
	Artifact string
	Cmdline  string
	Port     int
	Addr     string
}

// NewBootGate validates the configuration and parses the command template
func NewBootGate(cfg *BootConfig) (*BootGate, error) {
	if cfg == nil {
		return nil, fmt.Errorf("boot config is required")
	}
	c := *cfg
	if c.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultBootTimeout
	}
	if c.Timeout < 0 {
		return nil, fmt.Errorf("boot timeout must be positive, got %v", c.Timeout)
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}

	tmpl, err := template.New("boot").Option("missingkey=error").Parse(c.Command)
	if err != nil {
		return nil, fmt.Errorf("parsing boot command template: %w", err)
	}
	g := &BootGate{cfg: c, tmpl: tmpl, start: startExec}

	// Render once with placeholder values to surface template errors early
	if _, err := g.argv(bootVars{Port: 1, Addr: "127.0.0.1:1"}); err != nil {
		return nil, err
	}
	return g, nil
}

// WithStarter replaces the process starter, mainly for tests
func (g *BootGate) WithStarter(start StartFunc) *BootGate {
	g.start = start
	return g
}

func (g *BootGate) argv(vars bootVars) ([]string, error) {
	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, vars); err != nil {
		return nil, fmt.Errorf("rendering boot command: %w", err)
	}
	return splitCommand(buf.String())
}

// Boot starts the emulator and waits up to the timeout for one inbound
// connection on the listener. A hang, a crash and an early exit all read as
// TimedOut. The emulator is terminated and the listener closed before Boot
// returns, on every path.
// The returned error is non-nil when the listener or the emulator could not
// be set up (wrapping ErrSpawn for the latter) or ctx was canceled.
func (g *BootGate) Boot(ctx context.Context) (*BootResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	lc := listenConfig()
	ln, err := lc.Listen(ctx, "tcp", g.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", g.cfg.ListenAddr, err)
	}
	defer func() { _ = ln.Close() }()

	tcpLn := ln.(*net.TCPListener)
	deadline := start.Add(g.cfg.Timeout)
	if err := tcpLn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set accept deadline: %w", err)
	}

	addr := tcpLn.Addr().(*net.TCPAddr)
	argv, err := g.argv(bootVars{
		Artifact: g.cfg.Artifact,
		Cmdline:  g.cfg.Cmdline,
		Port:     addr.Port,
		Addr:     dialAddr(addr),
	})
	if err != nil {
		return nil, err
	}

	var out io.Writer
	if g.cfg.ConsoleLog != "" {
		logFile, err := os.Create(g.cfg.ConsoleLog)
		if err != nil {
			return nil, fmt.Errorf("failed to create console log: %w", err)
		}
		defer func() { _ = logFile.Close() }()
		out = logFile
	}

	proc, err := g.start(argv, g.cfg.Dir, g.cfg.Env, out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, argv[0], err)
	}
	exited := make(chan struct{})
	go func() {
		_ = proc.Wait()
		close(exited)
	}()
	defer g.terminate(proc, exited)

	result := &BootResult{Gate: GateBoot, Outcome: types.TimedOut}
	var (
		booted      bool
		peer        string
		exitedEarly bool
	)

	waitCtx, stop := context.WithCancel(ctx)
	defer stop()
	group, groupCtx := errgroup.WithContext(waitCtx)

	group.Go(func() error {
		defer stop()
		conn, err := tcpLn.Accept()
		if err != nil {
			// deadline, emulator exit or cancellation: no signal
			return nil
		}
		booted = true
		peer = conn.RemoteAddr().String()
		_ = conn.Close()
		return nil
	})

	group.Go(func() error {
		select {
		case <-exited:
			exitedEarly = true
			if linger := time.Now().Add(exitLinger); linger.Before(deadline) {
				_ = tcpLn.SetDeadline(linger)
			}
			<-groupCtx.Done()
		case <-groupCtx.Done():
		}
		_ = tcpLn.Close()
		return nil
	})

	_ = group.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if booted {
		result.Outcome = types.Booted
		result.Peer = peer
	} else {
		result.ExitedEarly = exitedEarly
	}
	result.Duration = time.Since(start)
	return result, nil
}

// terminate stops the emulator and reaps it: SIGTERM, then SIGKILL after the
// grace period. Whatever it left running is killed once it is gone, so a
// guest started by an exited wrapper cannot signal a later attempt.
func (g *BootGate) terminate(proc Process, exited <-chan struct{}) {
	defer func() { _ = proc.Kill() }()

	select {
	case <-exited:
		return
	default:
	}

	_ = proc.Signal(syscall.SIGTERM)
	select {
	case <-exited:
		return
	case <-time.After(g.cfg.Grace):
	}

	_ = proc.Kill()
	<-exited
}

// dialAddr renders a listener address a local client can connect to.
func dialAddr(addr *net.TCPAddr) string {
	host := addr.IP.String()
	if addr.IP == nil || addr.IP.IsUnspecified() {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(addr.Port))
}

package gates

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steveyegge/kmin/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestNewBuildGate_Validation(t *testing.T) {
	_, err := NewBuildGate(nil)
	assert.Error(t, err)

	_, err = NewBuildGate(&BuildConfig{Command: "make"})
	assert.Error(t, err, "artifact required")

	_, err = NewBuildGate(&BuildConfig{Command: "  ", Artifact: "a"})
	assert.Error(t, err, "empty command")

	_, err = NewBuildGate(&BuildConfig{Command: "make 'unterminated", Artifact: "a"})
	assert.Error(t, err)

	g, err := NewBuildGate(&BuildConfig{Command: "make", Artifact: "out.bin"})
	require.NoError(t, err)
	assert.Equal(t, "out.bin", g.ArtifactPath())
}

func TestBuild_ReportsArtifactSize(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "build.log")

	g, err := NewBuildGate(&BuildConfig{
		Command:  `sh -c 'echo building; printf "$KMIN_PAYLOAD" > out.bin'`,
		Dir:      dir,
		Artifact: "out.bin",
		Env:      []string{"KMIN_PAYLOAD=12345"},
		LogPath:  logPath,
	})
	require.NoError(t, err)

	result, err := g.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, GateBuild, result.Gate)
	assert.True(t, result.Passed)
	assert.Equal(t, int64(5), result.Size)
	assert.Contains(t, result.Output, "building")

	log, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "building\n", string(log))
}

func TestBuild_NonZeroExit(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.bin"), []byte("stale"), 0644))

	g, err := NewBuildGate(&BuildConfig{Command: `sh -c 'echo oops >&2; exit 3'`, Dir: dir, Artifact: "out.bin"})
	require.NoError(t, err)

	result, err := g.Build(context.Background())
	require.NoError(t, err, "a failed build is a verdict, not an error")
	assert.False(t, result.Passed)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Output, "oops")
	assert.Error(t, result.Error)
}

func TestBuild_MissingArtifact(t *testing.T) {
	skipWithoutShell(t)
	g, err := NewBuildGate(&BuildConfig{Command: "true", Dir: t.TempDir(), Artifact: "arch/x86/boot/bzImage"})
	require.NoError(t, err)

	result, err := g.Build(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Error.Error(), "artifact missing")
}

func TestBuild_SpawnFailure(t *testing.T) {
	g, err := NewBuildGate(&BuildConfig{Command: "/nonexistent/kmin-make -j8", Dir: t.TempDir(), Artifact: "out.bin"})
	require.NoError(t, err)

	_, err = g.Build(context.Background())
	assert.True(t, errors.Is(err, ErrSpawn))
}

func TestBuild_CanceledBeforeStart(t *testing.T) {
	g, err := NewBuildGate(&BuildConfig{Command: "true", Artifact: "out.bin"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Build(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(16)
	_, _ = tb.Write([]byte("short"))
	assert.Equal(t, "short", tb.String())

	tb = newTailBuffer(16)
	_, _ = tb.Write([]byte("line one\nline two\nline three\n"))
	got := tb.String()
	assert.True(t, strings.HasPrefix(got, "... (truncated)\n"))
	assert.True(t, strings.HasSuffix(got, "line three\n"))

	tb = newTailBuffer(16)
	_, _ = tb.Write([]byte("first\nsecond\n"))
	_, _ = tb.Write([]byte("end"))
	assert.Equal(t, "first\nsecond\nend", tb.String(), "exactly max bytes is not truncated")

	_, _ = tb.Write([]byte("!"))
	assert.Equal(t, "... (truncated)\nsecond\nend!", tb.String())
}

// fakeProcess stands in for the emulator
type fakeProcess struct {
	done    chan struct{}
	once    sync.Once
	signals atomic.Int32
	killed  atomic.Bool
	ignore  bool // ignore SIGTERM
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) exit() { p.once.Do(func() { close(p.done) }) }

func (p *fakeProcess) Wait() error {
	<-p.done
	return nil
}

func (p *fakeProcess) Signal(os.Signal) error {
	p.signals.Add(1)
	if !p.ignore {
		p.exit()
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.exit()
	return nil
}

func newTestBootGate(t *testing.T, timeout time.Duration, start StartFunc) *BootGate {
	t.Helper()
	g, err := NewBootGate(&BootConfig{
		Command:    "emulator -kernel {{.Artifact}} -append '{{.Cmdline}} kmin.addr={{.Addr}}' {{.Addr}}",
		Cmdline:    "root=/dev/sda1 rw",
		Artifact:   "bzImage",
		ListenAddr: "127.0.0.1:0",
		Timeout:    timeout,
		Grace:      100 * time.Millisecond,
	})
	require.NoError(t, err)
	return g.WithStarter(start)
}

func TestBoot_SignalReceived(t *testing.T) {
	proc := newFakeProcess()
	var gotArgv []string
	var addr string

	g := newTestBootGate(t, 5*time.Second, func(argv []string, dir string, env []string, out io.Writer) (Process, error) {
		gotArgv = argv
		addr = argv[len(argv)-1]
		go func() {
			conn, err := net.Dial("tcp", addr)
			if err == nil {
				_ = conn.Close()
			}
		}()
		return proc, nil
	})

	result, err := g.Boot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.Booted, result.Outcome)
	assert.NotEmpty(t, result.Peer)
	assert.Less(t, result.Duration, 5*time.Second)

	require.Len(t, gotArgv, 6)
	assert.Equal(t, "bzImage", gotArgv[2])
	assert.Equal(t, "root=/dev/sda1 rw kmin.addr="+addr, gotArgv[4])

	assert.Equal(t, int32(1), proc.signals.Load(), "emulator terminated after success")
	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err, "listener closed")
}

func TestBoot_UnspecifiedListenAddrRendersLoopback(t *testing.T) {
	proc := newFakeProcess()
	var addr string

	g, err := NewBootGate(&BootConfig{
		Command:    "emulator {{.Addr}}",
		Artifact:   "bzImage",
		ListenAddr: ":0",
		Timeout:    5 * time.Second,
		Grace:      100 * time.Millisecond,
	})
	require.NoError(t, err)
	g = g.WithStarter(func(argv []string, dir string, env []string, out io.Writer) (Process, error) {
		addr = argv[len(argv)-1]
		go func() {
			conn, err := net.Dial("tcp", addr)
			if err == nil {
				_ = conn.Close()
			}
		}()
		return proc, nil
	})

	result, err := g.Boot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.Booted, result.Outcome)
	assert.True(t, strings.HasPrefix(addr, "127.0.0.1:"), "got %s", addr)
}

func TestDialAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:1234", dialAddr(&net.TCPAddr{IP: net.IPv6unspecified, Port: 1234}))
	assert.Equal(t, "127.0.0.1:1234", dialAddr(&net.TCPAddr{IP: net.IPv4zero, Port: 1234}))
	assert.Equal(t, "127.0.0.1:1234", dialAddr(&net.TCPAddr{Port: 1234}))
	assert.Equal(t, "10.0.0.5:99", dialAddr(&net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 99}))
	assert.Equal(t, "[::1]:99", dialAddr(&net.TCPAddr{IP: net.IPv6loopback, Port: 99}))
}

func TestBoot_Timeout(t *testing.T) {
	proc := newFakeProcess()
	proc.ignore = true
	var addr string

	g := newTestBootGate(t, 200*time.Millisecond, func(argv []string, dir string, env []string, out io.Writer) (Process, error) {
		addr = argv[len(argv)-1]
		return proc, nil
	})

	result, err := g.Boot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.TimedOut, result.Outcome)
	assert.False(t, result.ExitedEarly)
	assert.True(t, proc.killed.Load(), "SIGTERM ignored, so the emulator is killed")

	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err, "listener closed")
}

func TestBoot_EmulatorExitsEarly(t *testing.T) {
	proc := newFakeProcess()
	g := newTestBootGate(t, 10*time.Second, func(argv []string, dir string, env []string, out io.Writer) (Process, error) {
		proc.exit()
		return proc, nil
	})

	result, err := g.Boot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.TimedOut, result.Outcome)
	assert.True(t, result.ExitedEarly)
	assert.Less(t, result.Duration, 5*time.Second, "does not wait out the timeout")
	assert.Zero(t, proc.signals.Load())
	assert.True(t, proc.killed.Load(), "what the emulator left behind is killed")
}

func TestBoot_RealProcessTerminated(t *testing.T) {
	skipWithoutShell(t)
	g, err := NewBootGate(&BootConfig{
		Command:    "sleep 30",
		ListenAddr: "127.0.0.1:0",
		Timeout:    300 * time.Millisecond,
		Grace:      2 * time.Second,
		ConsoleLog: filepath.Join(t.TempDir(), "console.log"),
	})
	require.NoError(t, err)

	start := time.Now()
	result, err := g.Boot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.TimedOut, result.Outcome)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestBoot_SpawnFailure(t *testing.T) {
	g, err := NewBootGate(&BootConfig{Command: "/nonexistent/kmin-qemu", ListenAddr: "127.0.0.1:0", Timeout: time.Second})
	require.NoError(t, err)

	_, err = g.Boot(context.Background())
	assert.True(t, errors.Is(err, ErrSpawn))
}

func TestBoot_Canceled(t *testing.T) {
	proc := newFakeProcess()
	ctx, cancel := context.WithCancel(context.Background())
	g := newTestBootGate(t, 10*time.Second, func(argv []string, dir string, env []string, out io.Writer) (Process, error) {
		time.AfterFunc(50*time.Millisecond, cancel)
		return proc, nil
	})

	_, err := g.Boot(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(1), proc.signals.Load())
}

func TestBoot_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	g, err := NewBootGate(&BootConfig{Command: "true", ListenAddr: ln.Addr().String(), Timeout: time.Second})
	require.NoError(t, err)

	_, err = g.Boot(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrSpawn))
}

func TestNewBootGate_Validation(t *testing.T) {
	_, err := NewBootGate(nil)
	assert.Error(t, err)

	_, err = NewBootGate(&BootConfig{Command: "qemu"})
	assert.Error(t, err, "listen address required")

	_, err = NewBootGate(&BootConfig{Command: "qemu {{.Nope}}", ListenAddr: ":1234"})
	assert.Error(t, err)

	_, err = NewBootGate(&BootConfig{Command: "qemu {{", ListenAddr: ":1234"})
	assert.Error(t, err)

	_, err = NewBootGate(&BootConfig{Command: "qemu", ListenAddr: ":1234", Timeout: -time.Second})
	assert.Error(t, err)
}

func TestSignal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
			close(accepted)
		}
	}()

	err = Signal(context.Background(), SignalConfig{Addr: ln.Addr().String(), Timeout: 5 * time.Second})
	require.NoError(t, err)

	select {
	case <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("listener never saw the signal")
	}
}

func TestSignal_NoListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	err = Signal(context.Background(), SignalConfig{Addr: addr, Timeout: 300 * time.Millisecond, Interval: 50 * time.Millisecond})
	assert.Error(t, err)

	err = Signal(context.Background(), SignalConfig{Addr: addr})
	assert.Error(t, err, "single attempt")

	assert.Error(t, Signal(context.Background(), SignalConfig{}))
}

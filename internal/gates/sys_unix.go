//go:build unix

package gates

import (
	"io"
	"net"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenConfig enables SO_REUSEADDR so a restarted run can bind while the
// previous socket is still in TIME_WAIT
func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// groupProcess signals the whole process group, so wrapper scripts do not
// leave the emulator behind
type groupProcess struct {
	cmd *exec.Cmd
}

func (p *groupProcess) Wait() error {
	return p.cmd.Wait()
}

// Signal reaches the group even after the leader has been reaped. ESRCH means
// the group is empty.
func (p *groupProcess) Signal(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return p.cmd.Process.Signal(sig)
	}
	if err := unix.Kill(-p.cmd.Process.Pid, s); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}

func (p *groupProcess) Kill() error {
	return p.Signal(unix.SIGKILL)
}

// detach moves the command into its own process group
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func startExec(argv []string, dir string, env []string, out io.Writer) (Process, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = out
	cmd.Stderr = out
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &groupProcess{cmd: cmd}, nil
}

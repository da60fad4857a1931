package launcher

import (
	"context"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/debug-bridge/internal/config"
	bridgeerrors "github.com/ctagard/debug-bridge/internal/errors"
)

// requireTool skips unless name is on PATH. The tests substitute ordinary
// unix tools for the python interpreter.
func requireTool(t *testing.T, name string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix tools required")
	}
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not found", name)
	}
}

func newTestLauncher(t *testing.T, mutate func(*config.LauncherConfig)) *Launcher {
	t.Helper()
	cfg := config.DefaultConfig().Launcher
	cfg.WorkDir = t.TempDir()
	cfg.ReadyTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, zerolog.Nop())
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestPreamble(t *testing.T) {
	assert.Equal(t,
		"import debugpy\ndebugpy.listen((\"127.0.0.1\", 5678))\ndebugpy.wait_for_client()\ndebugpy.breakpoint()\n",
		Preamble("127.0.0.1", 5678))
}

func TestLaunch_WritesPreambleAndRemovesScript(t *testing.T) {
	requireTool(t, "cat")
	l := newTestLauncher(t, func(c *config.LauncherConfig) { c.Python = "cat" })

	h, err := l.Launch(context.Background(), "print('hello')\n")
	require.NoError(t, err)
	assert.Positive(t, h.PID)
	assert.True(t, strings.HasPrefix(h.Script, l.cfg.WorkDir))
	assert.True(t, strings.HasSuffix(h.Script, ".py"))

	waitDone(t, h)

	assert.Equal(t, Preamble("127.0.0.1", 5678)+"print('hello')\n", h.Stdout())
	assert.Equal(t, 0, h.ExitCode())
	assert.NoError(t, h.Wait(context.Background()))

	_, err = os.Stat(h.Script)
	assert.True(t, os.IsNotExist(err), "script should be removed after exit")
}

func TestLaunch_ScriptRemovedOnFailure(t *testing.T) {
	requireTool(t, "sh")
	l := newTestLauncher(t, func(c *config.LauncherConfig) { c.Python = "sh" })

	// The preamble is not shell, so the run fails.
	h, err := l.Launch(context.Background(), "exit 3\n")
	require.NoError(t, err)
	waitDone(t, h)

	assert.NotEqual(t, 0, h.ExitCode())
	assert.Error(t, h.Wait(context.Background()))
	_, err = os.Stat(h.Script)
	assert.True(t, os.IsNotExist(err))
}

func TestLaunch_MissingInterpreter(t *testing.T) {
	dir := t.TempDir()
	l := newTestLauncher(t, func(c *config.LauncherConfig) {
		c.Python = "definitely-not-an-interpreter"
		c.WorkDir = dir
	})

	_, err := l.Launch(context.Background(), "pass\n")
	require.Error(t, err)
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.CodeLaunchFailed))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "script should be removed when spawn fails")
}

func TestLaunch_FreePort(t *testing.T) {
	requireTool(t, "cat")
	l := newTestLauncher(t, func(c *config.LauncherConfig) {
		c.Python = "cat"
		c.Port = 0
	})

	h, err := l.Launch(context.Background(), "")
	require.NoError(t, err)
	waitDone(t, h)

	assert.Positive(t, h.Port)
	assert.NotEqual(t, 5678, h.Port)
	assert.Contains(t, h.Stdout(), Preamble("127.0.0.1", h.Port))
}

func TestWaitReady_EndpointAccepting(t *testing.T) {
	requireTool(t, "tail")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	l := newTestLauncher(t, func(c *config.LauncherConfig) {
		c.Python = "tail"
		c.PythonArgs = []string{"-f"}
		c.Port = ln.Addr().(*net.TCPAddr).Port
	})

	h, err := l.Start(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, h.Exited())

	require.NoError(t, h.Kill())
	waitDone(t, h)
	_, err = os.Stat(h.Script)
	assert.True(t, os.IsNotExist(err))
}

func TestWaitReady_Timeout(t *testing.T) {
	requireTool(t, "tail")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	l := newTestLauncher(t, func(c *config.LauncherConfig) {
		c.Python = "tail"
		c.PythonArgs = []string{"-f"}
		c.Port = port
		c.ReadyTimeout = 300 * time.Millisecond
	})

	start := time.Now()
	h, err := l.Start(context.Background(), "")
	require.Error(t, err)
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.CodeLaunchTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)

	// Start kills a debuggee that never became ready.
	waitDone(t, h)
}

func TestWaitReady_ProcessExitsFirst(t *testing.T) {
	requireTool(t, "sh")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	l := newTestLauncher(t, func(c *config.LauncherConfig) {
		c.Python = "sh"
		c.Port = port
		c.ReadyTimeout = 5 * time.Second
	})

	start := time.Now()
	_, err = l.Start(context.Background(), "")
	require.Error(t, err)
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.CodeLaunchFailed), "got %v", err)
	assert.Contains(t, err.Error(), "exited")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestWaitReady_PortOwnedByAnotherProcess(t *testing.T) {
	requireTool(t, "sh")

	// stands in for an earlier debuggee still listening on the fixed port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	l := newTestLauncher(t, func(c *config.LauncherConfig) {
		c.Python = "sh"
		c.Port = ln.Addr().(*net.TCPAddr).Port
	})

	h, err := l.Launch(context.Background(), "")
	require.NoError(t, err)
	waitDone(t, h)

	err = l.WaitReady(context.Background(), h)
	require.Error(t, err)
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.CodeLaunchFailed), "got %v", err)

	de := bridgeerrors.FromError(err)
	assert.Equal(t, h.PID, de.Details["pid"])
	assert.NotEqual(t, 0, de.Details["exitCode"])
}

package orchestrator

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// readyTimeout bounds how long a freshly launched instance may take to
// answer its first health check.
const readyTimeout = 10 * time.Second

// ExecLauncher launches instance processes from the instance binary,
// handing each a port derived from its identity and recording a pidfile
// so a later orchestrator run can sweep up strays.
type ExecLauncher struct {
	// Binary is the path of the instance executable.
	Binary string
	// RunDir holds pidfiles; created on first launch.
	RunDir string
	// OrchestratorURL is passed to instances for registration.
	OrchestratorURL string
	// BrokerURL is the websocket endpoint instances subscribe through.
	BrokerURL string
	// BasePort is the listen port of instance 0; instance n gets
	// BasePort+n.
	BasePort int
}

// Launch starts one instance process and blocks until it answers
// health checks or the ready timeout expires.
func (l *ExecLauncher) Launch(id int) (Process, string, error) {
	if err := os.MkdirAll(l.RunDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating run dir: %w", err)
	}

	port := l.BasePort + id
	addr := fmt.Sprintf("http://127.0.0.1:%d", port)

	cmd := exec.Command(l.Binary)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("INSTANCE_ID=%d", id),
		fmt.Sprintf("INSTANCE_LISTEN=:%d", port),
		fmt.Sprintf("INSTANCE_ADDR=%s", addr),
		fmt.Sprintf("ORCHESTRATOR_URL=%s", l.OrchestratorURL),
		fmt.Sprintf("BROKER_URL=%s", l.BrokerURL),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("starting %s: %w", l.Binary, err)
	}

	pidfile := filepath.Join(l.RunDir, fmt.Sprintf("instance-%d.pid", id))
	if err := os.WriteFile(pidfile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		log.Printf("writing pidfile for instance %d: %v", id, err)
	}

	if err := waitForReady(addr + "/health"); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		os.Remove(pidfile)
		return nil, "", fmt.Errorf("instance %d never became healthy: %w", id, err)
	}

	return &osProcess{cmd: cmd, pidfile: pidfile}, addr, nil
}

// waitForReady polls a health URL until it answers 200 OK.
func waitForReady(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()

	client := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s", url)
		default:
			resp, err := client.Get(url)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// osProcess wraps an exec.Cmd as the registry's Process handle.
type osProcess struct {
	cmd     *exec.Cmd
	pidfile string
}

func (p *osProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *osProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *osProcess) Wait() error {
	err := p.cmd.Wait()
	os.Remove(p.pidfile)
	return err
}

// CleanupOrphans sweeps pidfiles left behind by a previous orchestrator
// run that terminated uncleanly, killing any process still holding one
// of our ports. Best effort: every failure is logged and ignored, so a
// cleanup problem never blocks startup.
func CleanupOrphans(runDir string) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("orphan sweep: reading %s: %v", runDir, err)
		}
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "instance-") || !strings.HasSuffix(name, ".pid") {
			continue
		}
		path := filepath.Join(runDir, name)

		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("orphan sweep: reading %s: %v", path, err)
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			log.Printf("orphan sweep: bad pid in %s: %v", path, err)
			os.Remove(path)
			continue
		}

		if proc, err := os.FindProcess(pid); err == nil {
			if err := proc.Signal(syscall.SIGKILL); err == nil {
				log.Printf("orphan sweep: killed leftover instance pid %d", pid)
			}
		}
		os.Remove(path)
	}
}

//go:build integration
// +build integration

package integration

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func requireIntegrationEnv(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

func startTestServer(t *testing.T, binaryName string, port int, extraEnv ...string) (*exec.Cmd, func()) {
	t.Helper()

	buildCmd := exec.Command("go", "build", "-o", binaryName, "../../cmd/server")
	err := buildCmd.Run()
	require.NoError(t, err, "Failed to build server")

	cmd := exec.Command(binaryName)
	baseEnv := append(os.Environ(), baseServerEnv()...)
	baseEnv = append(baseEnv, fmt.Sprintf("APIFRAME_SERVER_PORT=%d", port))
	cmd.Env = append(baseEnv, extraEnv...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Start()
	require.NoError(t, err)

	cleanup := func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = os.Remove(binaryName)
	}
	t.Cleanup(cleanup)

	waitForHealthy(t, port, &stdout, &stderr)

	return cmd, cleanup
}

func waitForHealthy(t *testing.T, port int, stdout, stderr *bytes.Buffer) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", port))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
	}
	t.Fatalf("Server did not become ready within 10 seconds.\nstdout:\n%s\nstderr:\n%s",
		stdout.String(), stderr.String())
}

// baseServerEnv configures a server instance without external dependencies:
// no database, metrics exposed locally, admin shutdown enabled.
func baseServerEnv() []string {
	return []string{
		"APIFRAME_OBSERVABILITY_METRICS_ENABLED=true",
		"APIFRAME_SERVER_ADMIN_SHUTDOWN_ENABLED=true",
		"APIFRAME_SERVER_ADMIN_AUTH_TOKEN=integration-token",
		"APIFRAME_SHUTDOWN_TIMEOUT=10s",
	}
}

// waitForExit waits for the process to finish and returns its exit error.
func waitForExit(t *testing.T, cmd *exec.Cmd, timeout time.Duration) error {
	t.Helper()
	doneChan := make(chan error, 1)
	go func() {
		doneChan <- cmd.Wait()
	}()

	select {
	case err := <-doneChan:
		return err
	case <-time.After(timeout):
		t.Fatalf("Server did not shut down within %s", timeout)
		return nil
	}
}

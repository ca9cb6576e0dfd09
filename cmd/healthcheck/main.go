// Command healthcheck probes the local branchpanel server for container
// health checks. It exits 0 when the server answers {"status":"ok"}.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"
)

const (
	defaultAddr  = "127.0.0.1:8080"
	probeTimeout = 2 * time.Second
)

func main() {
	os.Exit(check())
}

func check() int {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	target := healthURL(os.Getenv("BRANCHPANEL_LISTEN_ADDR"))
	if err := probe(ctx, &http.Client{Timeout: probeTimeout}, target); err != nil {
		slog.Error("health check failed", "url", target, "error", err)
		return 1
	}
	return 0
}

// probe requests target and checks the health payload.
func probe(ctx context.Context, client *http.Client, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if body.Status != "ok" {
		return fmt.Errorf("server reports status %q", body.Status)
	}
	return nil
}

// healthURL builds the loopback health endpoint for a listen address. A
// bind-all or empty host is probed on loopback, which is reachable from inside
// the same container.
func healthURL(listenAddr string) string {
	addr := defaultAddr
	if host, port, err := net.SplitHostPort(listenAddr); err == nil {
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, port)
	}
	return "http://" + addr + "/api/v1/health"
}

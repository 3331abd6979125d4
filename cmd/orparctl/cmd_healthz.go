package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// runHealthz probes a running server's /healthz endpoint and reports its
// status, mirroring the teacher's pattern of giving every long-running
// service a lightweight CLI-reachable health check.
func runHealthz(cmd *cobra.Command, args []string) error {
	addr := healthzAddr
	if len(args) > 0 {
		addr = args[0]
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr + "/healthz")
	if err != nil {
		return fmt.Errorf("orparctl: healthz probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("orparctl: server unhealthy, status %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("orparctl: decode healthz response: %w", err)
	}

	fmt.Printf("status: %s\n", body["status"])
	return nil
}

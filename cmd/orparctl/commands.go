package main

import (
	"github.com/spf13/cobra"
)

// --- Global command variables ---
var (
	serveAddr       string
	serveCORSOrigin []string
	redisAddr       string
	durableFanout   bool
	healthzAddr     string
	serveConfigPath string
	metricsBackend  string

	rootCmd = &cobra.Command{
		Use:   "orparctl",
		Short: "Operate an ORPAR cognitive-cycle coordination server",
		Long: `orparctl boots and inspects an ORPAR coordination server: the
event bus, loop engine, and network bridge that run the Observe-Reason-
Plan-Act-Reflect cycle for a population of agents.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Boot the event bus, loop engine, and network bridge",
		RunE:  runServe,
	}

	healthzCmd = &cobra.Command{
		Use:   "healthz [addr]",
		Short: "Check a running server's health endpoint",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHealthz,
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "HTTP listen address for the bridge's WebSocket endpoint")
	serveCmd.Flags().StringSliceVar(&serveCORSOrigin, "cors-origin", nil, "Allowed CORS origins (default: *)")
	serveCmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address for durable room fanout (empty disables it)")
	serveCmd.Flags().BoolVar(&durableFanout, "durable-fanout", false, "Enable Pulse-backed durable room fanout (requires --redis-addr)")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a YAML config file (agent keys, user tokens, LLM provider)")
	serveCmd.Flags().StringVar(&metricsBackend, "metrics-backend", "otel", "Metrics backend: otel (via Clue) or prometheus (exposes /metrics)")

	rootCmd.AddCommand(healthzCmd)
	healthzCmd.Flags().StringVar(&healthzAddr, "addr", "http://localhost:8080", "Base URL of the server to probe")
}

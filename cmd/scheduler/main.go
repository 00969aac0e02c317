package main

import (
	"fmt"
	"os"

	"github.com/wuchris-ch/notification-app/internal/config"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`reminder-scheduler - cron reminders delivered to ntfy and SNS

Usage:
  reminder-scheduler <command>

Commands:
  serve      Start the reconciler, trigger registry and dispatcher
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              postgres://... or sqlite://path (required)
  HTTP_ADDR                 HTTP server address (default: ":8080", PORT fallback)
  ENV                       development|production (default: "development")
  LOG_LEVEL                 debug|info|warn|error (default: "info")

  RECONCILE_INTERVAL        How often reminders are re-read (default: "60s")
  STORE_TIMEOUT             Per store call timeout (default: "5s")
  SEND_TIMEOUT              Per notification send timeout (default: "10s")
  DEFAULT_TIMEZONE          Timezone for reminders without one (default: "America/Vancouver")

  DISPATCHER_WORKERS        Goroutines consuming firings (default: "4")
  FANOUT_CONCURRENCY        Parallel sends per firing (default: "8")
  EVENTBUS_BUFFER_SIZE      Buffered firings (default: "100")
  EVENTBUS_EMIT_TIMEOUT     Max wait for buffer space (default: "1s")
  DISPATCHER_DRAIN_TIMEOUT  Drain timeout on shutdown (default: "30s")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  NTFY_BASE_URL             ntfy server (default: "https://ntfy.sh")
  NTFY_TOKEN                ntfy access token (optional)
  NTFY_RATE_PER_SEC         Publish rate limit (default: "5")

  SNS_ENABLED               Deliver sns channels (default: "false")
  AWS_REGION                SNS region (default: "us-east-1")
  SNS_ENDPOINT              Override endpoint, e.g. LocalStack (optional)

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before a destination is paused, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Pause length (default: "2m")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  REDIS_ADDR                Redis address for analytics (optional)
  ANALYTICS_WINDOW          Counter bucket: 1m|5m|1h|24h (default: "1h")
  ANALYTICS_RETENTION       Counter TTL (default: "168h")

  LEADER_ELECTION_ENABLED   Postgres advisory lock leader election (default: "false")
  LEADER_LOCK_KEY           Advisory lock key (default: "728379")
  LEADER_RETRY_INTERVAL     Follower retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping (default: "2s")

  LISTEN_ENABLED            Reconcile on Postgres NOTIFY (default: "false")
  LISTEN_CHANNEL            NOTIFY channel (default: "reminders_changed")

  DB_MAX_OPEN_CONNS         Max open database connections (default: "10")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_AUTO_MIGRATE           Apply the Postgres schema on start (default: "false")`)
}

func runValidate() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("reminder-scheduler version %s (commit: %s)\n", version, commit)
	return exitSuccess
}

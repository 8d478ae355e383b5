// Command warden wires a kernel instance from environment configuration
// and runs a short demonstration of the mediated action flow.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/hearthward/warden/pkg/audit"
	"github.com/hearthward/warden/pkg/capability"
	"github.com/hearthward/warden/pkg/config"
	"github.com/hearthward/warden/pkg/contracts"
	"github.com/hearthward/warden/pkg/coordinator"
	"github.com/hearthward/warden/pkg/observability"
	"github.com/hearthward/warden/pkg/policy"
	"github.com/hearthward/warden/pkg/ratelimit"
	"github.com/hearthward/warden/pkg/resource"
	"github.com/hearthward/warden/pkg/runner"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	initLogger(cfg.LogLevel)

	if cfg.SigningSecret == "" {
		slog.Error("WARDEN_SECRET is not set; refusing to mint unsigned capability tokens")
		return 1
	}

	ctx := context.Background()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "warden",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   1.0,
		Enabled:      cfg.OTLPEndpoint != "",
		Insecure:     true,
	})
	if err != nil {
		slog.Error("observability init failed", "error", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(ctx) }()

	table := policy.DefaultRuleTable()
	if cfg.RulesPath != "" {
		table, err = policy.LoadRuleTable(cfg.RulesPath)
		if err != nil {
			slog.Error("rule table load failed", "path", cfg.RulesPath, "error", err)
			return 1
		}
	}

	manager := capability.NewManager([]byte(cfg.SigningSecret), capability.WithTTL(cfg.TokenTTL))
	engine, err := policy.NewEngine(table, manager)
	if err != nil {
		slog.Error("policy engine init failed", "error", err)
		return 1
	}

	tokens := capability.NewStore()
	firewall := runner.NewFirewall()
	if err := firewall.Register(contracts.ActionWriteFile, runner.DefaultWriteFileSchema); err != nil {
		slog.Error("firewall schema registration failed", "error", err)
		return 1
	}
	if err := firewall.Register(contracts.ActionWriteMemory, runner.DefaultWriteMemorySchema); err != nil {
		slog.Error("firewall schema registration failed", "error", err)
		return 1
	}
	toolRunner := runner.New(tokens, manager,
		resource.NewSandboxFS(cfg.SandboxRoot),
		resource.NewInMemoryFactStore(),
		runner.WithFirewall(firewall),
	)

	opts := []coordinator.Option{
		coordinator.WithObservability(obs),
	}

	if cfg.AuditDBPath != "" {
		db, err := sql.Open("sqlite", cfg.AuditDBPath)
		if err != nil {
			slog.Error("audit database open failed", "path", cfg.AuditDBPath, "error", err)
			return 1
		}
		defer func() { _ = db.Close() }()
		log, err := audit.NewSQLiteLog(db)
		if err != nil {
			slog.Error("audit log init failed", "error", err)
			return 1
		}
		opts = append(opts, coordinator.WithAuditLog(log))
	}

	ratePolicy := ratelimit.Policy{RequestsPerMinute: cfg.RatePerMinute, Burst: cfg.RateBurst}
	if cfg.RedisAddr != "" {
		opts = append(opts, coordinator.WithRateLimit(
			ratelimit.NewRedisStore(cfg.RedisAddr, "", 0), ratePolicy))
	} else {
		opts = append(opts, coordinator.WithRateLimit(ratelimit.NewMemoryStore(), ratePolicy))
	}

	coord := coordinator.New(engine, toolRunner, tokens, opts...)

	demo(ctx, coord)
	return 0
}

// demo exercises the main verbs against the sandbox so a fresh checkout
// has something observable to run.
func demo(ctx context.Context, coord *coordinator.Coordinator) {
	const agent, session = "demo-agent", "demo-session"

	write := coord.SecureFileWrite(ctx, agent, session, "data/notes.txt", "boiler serviced in March")
	report("write data/notes.txt", write)

	read := coord.SecureFileRead(ctx, agent, session, "data/notes.txt")
	report("read data/notes.txt", read)

	denied := coord.SecureFileRead(ctx, agent, session, ".env")
	report("read .env", denied)

	memory := coord.SecureMemoryWrite(ctx, agent, session, "household",
		"gutters cleaned <script>alert('x')</script> last week")
	report("write memory fact", memory)

	summary := coord.GetSecuritySummary()
	fmt.Printf("decisions=%d allowed=%d denied=%d sanitized=%d denial_rate=%.2f\n",
		summary.TotalPolicyDecisions, summary.Allowed, summary.Denied,
		summary.Sanitized, summary.DenialRate)
}

func report(label string, outcome *coordinator.ActionOutcome) {
	if outcome.Success {
		slog.Info(label, "success", true, "payload", outcome.Payload)
		return
	}
	slog.Warn(label, "success", false, "error", outcome.Err)
}

func initLogger(level string) {
	var lvl slog.Level
	switch level {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

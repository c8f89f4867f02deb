// Command activationctl is the operator CLI for the activation engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"activation_backend/internal/activations"
	"activation_backend/internal/activations/ports"
	"activation_backend/internal/activations/service"
	"activation_backend/internal/crm"
	"activation_backend/internal/events"
	"activation_backend/platform/config"
	"activation_backend/platform/db"
	"activation_backend/platform/logger"
	"activation_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "activationctl",
	Short:         "Operate the account activation engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, migrateCmd, settingsCmd, describeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env holds the dependencies shared by the subcommands.
type env struct {
	cfg  *config.Config
	log  *logger.Logger
	pool *pgxpool.Pool
	val  *validator.Validator
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Env)

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &env{cfg: cfg, log: log, pool: pool, val: validator.New()}, nil
}

func (e *env) Close() {
	e.pool.Close()
}

// service builds the activations service. The CRM client is only created
// when withCRM is set so settings commands work without Salesforce access.
func (e *env) service(withCRM bool) (*service.Service, error) {
	var client ports.CRM
	if withCRM {
		c, err := crm.New(e.cfg, e.log)
		if err != nil {
			return nil, fmt.Errorf("salesforce client: %w", err)
		}
		client = c
	}
	bus := events.NewInMemoryBus(e.log)
	return activations.NewModule(e.pool, client, bus, e.val, e.log, e.cfg.GetUserTimezone()).Service(), nil
}

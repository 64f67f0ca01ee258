// Package cli implements limsctl, the command-line front end of the import
// engine. Commands talk to the database directly through the same service
// the HTTP server uses.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/lims/internal/config"
	"github.com/JonMunkholm/lims/internal/core"
	_ "github.com/JonMunkholm/lims/internal/core/tables" // Register all entities
	"github.com/JonMunkholm/lims/internal/logging"
	"github.com/JonMunkholm/lims/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitUsage    = 2
	ExitRejected = 3 // import rejected or reported as failed; see the summary
)

// ExitError carries a process exit code. Reported errors were already
// printed with their support code.
type ExitError struct {
	Code     int
	Err      error
	Reported bool
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func withCode(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

func reported(code int, err error) error {
	return &ExitError{Code: code, Err: err, Reported: true}
}

// Reported reports whether err was already printed by the command.
func Reported(err error) bool {
	var ee *ExitError
	return errors.As(err, &ee) && ee.Reported
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

// globalFlags are shared by every command.
type globalFlags struct {
	envFile  string
	logLevel string
	noColor  bool
}

// RootCmd builds the limsctl command tree.
func RootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:   "limsctl",
		Short: "Bulk import and identifier tools for the LIMS database",
		Long: `limsctl imports CSV and Excel files into the LIMS database, previews
imports without writing, exports entities back to CSV, and inspects or
allocates sequential identifiers.

Database settings come from the environment (DB_DRIVER, DATABASE_URL,
SQLITE_PATH) and an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setColor(g.noColor)
			cmd.SetContext(core.WithRequester(cmd.Context(), core.Requester{UserAgent: "limsctl " + cmd.Name()}))
			if g.envFile != "" {
				// A missing .env is fine; the environment may already be set.
				_ = godotenv.Load(g.envFile)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Environment file to load before reading configuration")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level written to stderr: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(MigrateCmd(&g))
	root.AddCommand(PreviewCmd(&g))
	root.AddCommand(ImportCmd(&g))
	root.AddCommand(IDsCmd(&g))
	root.AddCommand(ExportCmd(&g))
	root.AddCommand(TemplateCmd())
	root.AddCommand(EntitiesCmd())

	return root
}

// env is an opened configuration, store and service.
type env struct {
	cfg     *config.Config
	store   store.Store
	service *core.Service
}

func (e *env) Close() error { return e.store.Close() }

// openEnv loads configuration and opens the store. Logs go to stderr so
// stdout carries only command output.
func openEnv(ctx context.Context, g *globalFlags) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := logging.New(os.Stderr, g.logLevel, cfg.Logging.Format)
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Database.Driver, err)
	}

	svc := core.NewService(st, cfg.Import,
		core.WithLogger(logger),
		core.WithAuditSink(core.MultiAuditSink{st, core.NewLogAuditSink(logger)}),
	)
	return &env{cfg: cfg, store: st, service: svc}, nil
}

// resolveEntity returns the --entity flag, or infers it from the file name
// ("specimens.csv", "Projects-2024.xlsx").
func resolveEntity(flag, file string) (core.EntityType, error) {
	if flag != "" {
		et, err := core.ParseEntityType(flag)
		if err != nil {
			return "", withCode(ExitUsage, err)
		}
		return et, nil
	}

	base := strings.ToLower(strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)))
	for _, sep := range []string{"-", "_", " ", "."} {
		base, _, _ = strings.Cut(base, sep)
	}
	if et, err := core.ParseEntityType(base); err == nil {
		return et, nil
	}
	return "", withCode(ExitUsage, fmt.Errorf("cannot infer the entity from %q; pass --entity", filepath.Base(file)))
}

// entityArg parses a positional entity argument.
func entityArg(arg string) (core.EntityType, error) {
	et, err := core.ParseEntityType(arg)
	if err != nil {
		return "", withCode(ExitUsage, err)
	}
	return et, nil
}

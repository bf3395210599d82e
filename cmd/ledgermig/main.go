package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	cfg "ledgermig/internal/config"
	im "ledgermig/internal/migrator"
	pub "ledgermig/pkg/migrator"
)

var (
	cfgFile string
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		// Err carries the driver cause; the message stays human readable.
		log.Error().Err(cause(err)).Msg(err.Error())
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgermig",
		Short:         "Apply and revert versioned SQL files against PostgreSQL",
		Long:          "Running without a subcommand applies every pending change (same as `ledgermig up`).",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	addCommonFlags(flags)
	flags.StringVarP(&cfgFile, "config", "c", "", "Path to config YAML")

	root.RunE = runDirection(flags, im.Up)
	root.AddCommand(cmdCreate(flags), cmdUp(flags), cmdDown(flags), cmdStatus(flags), cmdVersion(flags))
	return root
}

func addCommonFlags(fs *pflag.FlagSet) {
	fs.String("dsn", "", "PostgreSQL DSN (overrides the db-* flags)")
	fs.String("db-host", "", "Database host")
	fs.Int("db-port", 0, "Database port")
	fs.String("db-user", "", "Database user")
	fs.String("db-password", "", "Database password")
	fs.String("db-name", "", "Database name")
	fs.String("db-sslmode", "", "SSL mode (disable|prefer|require|verify-full)")
	fs.String("path", "./migrations", "Path to migrations directory")
	fs.String("ext", ".sql", "Migration file extension")
	fs.String("ledger-table", "migrations", "Ledger table name (optionally schema.table)")
	fs.String("ledger-name-column", "name", "Ledger column holding the change name")
	fs.String("ledger-time-column", "executed_at", "Ledger column holding the apply time")
	fs.Bool("create-ledger", false, "Create the ledger table if it does not exist")
	fs.String("log-level", "info", "Log level (debug|info|warn|error)")
}

func loadConfig(flags *pflag.FlagSet) (cfg.Config, error) {
	c, err := cfg.Load(flags, cfgFile)
	if err != nil {
		return c, err
	}
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return c, &im.Error{Kind: im.KindConfig, Subject: fmt.Sprintf("log level %q", c.LogLevel), Err: err}
	}
	zerolog.SetGlobalLevel(lvl)
	return c, nil
}

func runDirection(flags *pflag.FlagSet, dir im.Direction) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(flags)
		if err != nil {
			return err
		}
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		out, err := pub.Run(cmd.Context(), c, dir, target, log.Logger)
		if err != nil {
			return err
		}
		report(cmd.OutOrStdout(), out)
		return nil
	}
}

func report(w io.Writer, out im.Outcome) {
	if len(out.Done) == 0 {
		fmt.Fprintln(w, "Nothing to migrate.")
		return
	}
	if out.Direction == im.Down {
		fmt.Fprintf(w, "Migrations reverted (%d).\n", len(out.Done))
	} else {
		fmt.Fprintf(w, "Migrations executed (%d).\n", len(out.Done))
	}
	if out.Reached {
		fmt.Fprintf(w, "Stopped at target version %s.\n", out.Target)
	}
}

func cmdUp(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{
		Use:   "up [target-version]",
		Short: "Apply pending migrations, optionally stopping at a version",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDirection(flags, im.Up),
	}
}

func cmdDown(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{
		Use:   "down [target-version]",
		Short: "Revert applied migrations newest first, optionally stopping at a version",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDirection(flags, im.Down),
	}
}

func cmdStatus(flags *pflag.FlagSet) *cobra.Command {
	var output string
	cmd := &cobra.Command{Use: "status", Short: "Show migration status table", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(flags)
		if err != nil {
			return err
		}
		rows, err := pub.Status(cmd.Context(), c, log.Logger)
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), rows, output)
	}}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text|yaml")
	return cmd
}

func printStatus(w io.Writer, rows []im.StatusRow, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STATUS\tAPPLIED_AT\tVERSION\tNAME")
		for _, r := range rows {
			at := "-"
			if r.AppliedAt != nil {
				at = r.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Status, at, r.Version, r.Name)
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown output format %q (want text or yaml)", format)
}

func cmdVersion(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{Use: "version", Short: "Print the most recently applied version", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(flags)
		if err != nil {
			return err
		}
		v, err := pub.Version(cmd.Context(), c, log.Logger)
		if err != nil {
			return err
		}
		if v == "" {
			v = "none"
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	}}
}

func cmdCreate(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty up/down migration pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// create never connects, so database settings are not required
			c, err := cfg.LoadUnvalidated(flags, cfgFile)
			if err != nil {
				return err
			}
			up, down, err := createSQLPair(c.Path, c.Ext, args[0], time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\nCreated %s\n", up, down)
			return nil
		},
	}
}

// createSQLPair writes <millis>_<name>_up<ext> and the matching _down file.
func createSQLPair(dir, ext, name string, now time.Time) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	if ext == "" {
		ext = ".sql"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	base := fmt.Sprintf("%d_%s", now.UnixMilli(), sanitizeName(name))
	up := filepath.Join(dir, base+"_up"+ext)
	down := filepath.Join(dir, base+"_down"+ext)
	if err := os.WriteFile(up, []byte("-- apply "+base+"\n"), 0o644); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(down, []byte("-- revert "+base+"\n"), 0o644); err != nil {
		return "", "", err
	}
	return up, down, nil
}

func sanitizeName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		} else if r == ' ' || r == '.' || r == '/' || r == '\\' {
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "migration"
	}
	return string(out)
}

func cause(err error) error {
	if e, ok := err.(*im.Error); ok && e.Err != nil {
		return e.Err
	}
	return nil
}

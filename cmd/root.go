package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/catalog"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// memoryDB selects a throwaway in-memory store.
const memoryDB = ":memory:"

var (
	dbPath     string
	configPath string
	userName   string
	verbose    bool
	noColor    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default ~/.dlx/dlx.db, :memory: for none)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "HCL authority control configuration")
	rootCmd.PersistentFlags().StringVarP(&userName, "user", "u", defaultUser(), "User recorded in audit fields")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

var rootCmd = &cobra.Command{
	Use:           "dlx",
	Short:         "dlx: bibliographic and authority records with controlled headings",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "dlx"
}

func newLogger(w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: color.NoColor}).
		Level(level).With().Timestamp().Logger()
}

// openCatalog opens the store named by --db with the --config table. The
// returned func closes the store.
func openCatalog(cmd *cobra.Command) (*catalog.Catalog, func(), error) {
	log := newLogger(cmd.ErrOrStderr())

	table, err := api.Default()
	if configPath != "" {
		table, err = api.LoadFile(configPath)
	}
	if err != nil {
		return nil, nil, err
	}

	var s store.Store
	switch path := dbPath; path {
	case memoryDB:
		s = store.NewMemoryStore()
	default:
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, nil, fmt.Errorf("failed to get home dir: %w", err)
			}
			path = filepath.Join(home, ".dlx", "dlx.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create db dir: %w", err)
		}
		if s, err = store.OpenSQLite(path, store.WithLogger(log)); err != nil {
			return nil, nil, err
		}
		log.Debug().Str("db", path).Msg("store opened")
	}

	c := catalog.New(s, catalog.WithTable(table), catalog.WithLogger(log))
	if err := c.EnsureIndexes(); err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return c, func() { _ = s.Close() }, nil
}

func recordType(s string) (api.RecordType, error) {
	rt := api.RecordType(s)
	if !rt.Valid() {
		return "", fmt.Errorf("unknown record type %q (want bib or auth)", s)
	}
	return rt, nil
}

// recordArgs parses "<type> <id>" positional arguments.
func recordArgs(args []string) (api.RecordType, int, error) {
	rt, err := recordType(args[0])
	if err != nil {
		return "", 0, err
	}
	id, err := strconv.Atoi(args[1])
	if err != nil || id < 1 {
		return "", 0, fmt.Errorf("invalid record id %q", args[1])
	}
	return rt, id, nil
}

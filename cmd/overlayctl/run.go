package main

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/andreyvit/overlaycache"
	flag "github.com/spf13/pflag"
)

type globalFlags struct {
	dbPath     string
	user       string
	configPath string
	verbose    bool
}

// env is what a command gets to work with.
type env struct {
	out   io.Writer
	db    *overlaycache.DB
	cache *overlaycache.DocumentOverlayCache
}

// command defines a subcommand. Flags may be nil.
type command struct {
	Usage string
	Short string
	Flags *flag.FlagSet
	NArgs int
	Exec  func(e *env, args []string) error
}

func (c *command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

var errUsage = errors.New("usage")

func commands() []*command {
	var since, count, batch int
	var raw bool

	listFlags := flag.NewFlagSet("list", flag.ContinueOnError)
	listFlags.IntVar(&since, "since", -1, "only overlays with a larger batch id")

	groupFlags := flag.NewFlagSet("group", flag.ContinueOnError)
	groupFlags.IntVar(&since, "since", -1, "only overlays with a larger batch id")
	groupFlags.IntVar(&count, "count", 100, "stop after this many overlays")

	saveFlags := flag.NewFlagSet("save", flag.ContinueOnError)
	saveFlags.IntVar(&batch, "batch", 0, "largest batch id of the overlay (required)")

	dumpFlags := flag.NewFlagSet("dump", flag.ContinueOnError)
	dumpFlags.BoolVar(&raw, "raw", false, "include raw keys and values")

	return []*command{
		{
			Usage: "stats",
			Short: "Show row counts",
			Exec: func(e *env, _ []string) error {
				dbs, err := e.db.Stats()
				if err != nil {
					return err
				}
				cs, err := e.cache.Stats()
				if err != nil {
					return err
				}
				fmt.Fprintf(e.out, "keys = %d, size = %d\n", dbs.Keys, dbs.Size)
				fmt.Fprintf(e.out, "user %q: %v\n", e.cache.UserID(), cs)
				return nil
			},
		},
		{
			Usage: "dump [--raw]",
			Short: "Print every stored row",
			Flags: dumpFlags,
			Exec: func(e *env, _ []string) error {
				f := overlaycache.DumpAll
				if raw {
					f |= overlaycache.DumpRaw
				}
				fmt.Fprint(e.out, e.db.Dump(f))
				return nil
			},
		},
		{
			Usage: "check",
			Short: "Verify that the indexes match the overlay records",
			Exec: func(e *env, _ []string) error {
				if err := e.cache.CheckConsistency(); err != nil {
					return err
				}
				fmt.Fprintln(e.out, "ok")
				return nil
			},
		},
		{
			Usage: "get <doc>",
			Short: "Print the overlay of a document",
			NArgs: 1,
			Exec: func(e *env, args []string) error {
				key, err := overlaycache.ParseDocumentKey(args[0])
				if err != nil {
					return err
				}
				ov, err := e.cache.GetOverlay(key)
				if err != nil {
					return err
				}
				if ov == nil {
					return fmt.Errorf("no overlay for %s", key)
				}
				return printOverlay(e.out, *ov)
			},
		},
		{
			Usage: "list <collection> [--since N]",
			Short: "List the overlays of a collection",
			Flags: listFlags,
			NArgs: 1,
			Exec: func(e *env, args []string) error {
				coll, err := overlaycache.ParseResourcePath(args[0])
				if err != nil {
					return err
				}
				for ov, err := range e.cache.CollectionOverlays(coll, since) {
					if err != nil {
						return err
					}
					if err := printOverlay(e.out, ov); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Usage: "group <name> [--since N] [--count K]",
			Short: "List the oldest overlays of a collection group",
			Flags: groupFlags,
			NArgs: 1,
			Exec: func(e *env, args []string) error {
				result, err := e.cache.GetCollectionGroupOverlays(args[0], since, count)
				if err != nil {
					return err
				}
				overlays := make([]overlaycache.Overlay, 0, len(result))
				for _, ov := range result {
					overlays = append(overlays, ov)
				}
				slices.SortFunc(overlays, func(a, b overlaycache.Overlay) int {
					return cmp.Or(cmp.Compare(a.LargestBatchID, b.LargestBatchID), a.Key.Compare(b.Key))
				})
				for _, ov := range overlays {
					if err := printOverlay(e.out, ov); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Usage: "save --batch N <doc> <mutation-json>",
			Short: "Store an overlay",
			Flags: saveFlags,
			NArgs: 2,
			Exec: func(e *env, args []string) error {
				if !saveFlags.Changed("batch") {
					return fmt.Errorf("%w: --batch is required", errUsage)
				}
				key, err := overlaycache.ParseDocumentKey(args[0])
				if err != nil {
					return err
				}
				mut, err := overlaycache.JSON.DecodeMutation([]byte(args[1]))
				if err != nil {
					return fmt.Errorf("invalid mutation: %w", err)
				}
				return e.cache.SaveOverlays(batch, overlaycache.MutationMap{key: mut})
			},
		},
		{
			Usage: "remove-batch <id>",
			Short: "Remove all overlays of a batch",
			NArgs: 1,
			Exec: func(e *env, args []string) error {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid batch id %q", args[0])
				}
				return e.cache.RemoveOverlaysForBatchID(id)
			},
		},
	}
}

// Run is the entry point of overlayctl. Returns exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	var gf globalFlags
	fs := flag.NewFlagSet("overlayctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	fs.StringVar(&gf.dbPath, "db", "", "path to the database file")
	fs.StringVar(&gf.user, "user", "", "user id (empty for the unauthenticated user)")
	fs.StringVar(&gf.configPath, "config", "", "path to a JSONC config file")
	fs.BoolVarP(&gf.verbose, "verbose", "v", false, "log every change")

	cmds := commands()

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(stdout, fs, cmds)
			return 0
		}
		fmt.Fprintln(stderr, "error:", err)
		printUsage(stderr, fs, cmds)
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stdout, fs, cmds)
		return 0
	}

	cmd := findCommand(cmds, rest[0])
	if cmd == nil {
		fmt.Fprintf(stderr, "error: unknown command %q\n", rest[0])
		printUsage(stderr, fs, cmds)
		return 1
	}
	cmdArgs := rest[1:]
	if cmd.Flags != nil {
		cmd.Flags.SetOutput(io.Discard)
		if err := cmd.Flags.Parse(cmdArgs); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				printCommandHelp(stdout, cmd)
				return 0
			}
			fmt.Fprintln(stderr, "error:", err)
			printCommandHelp(stderr, cmd)
			return 1
		}
		cmdArgs = cmd.Flags.Args()
	}
	if len(cmdArgs) != cmd.NArgs {
		fmt.Fprintf(stderr, "error: %s takes %d argument(s), got %d\n", cmd.Name(), cmd.NArgs, len(cmdArgs))
		printCommandHelp(stderr, cmd)
		return 1
	}

	cfg, err := LoadConfig(gf.configPath)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	if fs.Changed("db") {
		cfg.DBPath = gf.dbPath
	}
	if fs.Changed("user") {
		cfg.User = gf.user
	}
	if fs.Changed("verbose") {
		cfg.Verbose = gf.verbose
	}
	if err := validateConfig(cfg); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	db, err := openDB(cfg, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	defer db.Close()

	e := &env{
		out:   stdout,
		db:    db,
		cache: db.OverlayCache(overlaycache.User{UID: cfg.User}),
	}
	if err := cmd.Exec(e, cmdArgs); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		if errors.Is(err, errUsage) {
			printCommandHelp(stderr, cmd)
		}
		return 1
	}
	return 0
}

func openDB(cfg Config, stderr io.Writer) (*overlaycache.DB, error) {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	serializer, err := cfg.serializer()
	if err != nil {
		return nil, err
	}
	return overlaycache.Open(cfg.DBPath, overlaycache.Options{
		Logger:     logger,
		Verbose:    cfg.Verbose,
		MmapSize:   cfg.MmapSize,
		Serializer: serializer,
	})
}

func findCommand(cmds []*command, name string) *command {
	for _, c := range cmds {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

type overlayJSON struct {
	Key      string          `json:"key"`
	Batch    int             `json:"batch"`
	Mutation json.RawMessage `json:"mutation"`
}

func printOverlay(w io.Writer, ov overlaycache.Overlay) error {
	mut, err := overlaycache.JSON.EncodeMutation(nil, &ov.Mutation)
	if err != nil {
		return err
	}
	data, err := json.Marshal(overlayJSON{ov.Key.String(), ov.LargestBatchID, mut})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func printUsage(w io.Writer, fs *flag.FlagSet, cmds []*command) {
	fmt.Fprintln(w, "Usage: overlayctl [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range cmds {
		fmt.Fprintf(w, "  %-40s %s\n", c.Usage, c.Short)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, fs.FlagUsages())
}

func printCommandHelp(w io.Writer, c *command) {
	fmt.Fprintln(w, "Usage: overlayctl", c.Usage)
	fmt.Fprintln(w)
	fmt.Fprintln(w, c.Short)
	if c.Flags != nil && c.Flags.HasFlags() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Flags:")
		fmt.Fprint(w, c.Flags.FlagUsages())
	}
}

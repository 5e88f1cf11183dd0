package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/gpahub/internal"
	"github.com/starford/gpahub/internal/ingest"
	pkgconfig "github.com/starford/gpahub/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found {
		slog.Warn("config file not found, using defaults", slog.String("path", configPath))
	}
	return cfg, nil
}

// withRuntime builds the runtime for a one-shot command, logging to stderr
// so stdout carries only the command's JSON output.
func withRuntime(ctx context.Context, cmd *cli.Command, fn func(*internal.Runtime) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := internal.NewLogger(os.Stderr, cfg.App.LogLevel)
	slog.SetDefault(logger)

	rt, err := internal.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

func gradesheetFile(cmd *cli.Command) (*os.File, error) {
	path := cmd.Args().First()
	if path == "" {
		return nil, fmt.Errorf("gradesheet file argument is required")
	}
	return os.Open(path)
}

func ingestFile(ctx context.Context, cmd *cli.Command) error {
	f, err := gradesheetFile(cmd)
	if err != nil {
		return err
	}
	defer f.Close()

	return withRuntime(ctx, cmd, func(rt *internal.Runtime) error {
		sum, err := rt.Service.Ingest(ctx, f, cmd.String("program"), cmd.String("regulation"))
		if sum != nil {
			if perr := printJSON(sum); perr != nil {
				return perr
			}
		}
		if err != nil {
			return err
		}
		if !sum.Success {
			return fmt.Errorf("ingest incomplete: %d of %d operations written", sum.Written, sum.Operations)
		}
		return nil
	})
}

func parseFile(_ context.Context, cmd *cli.Command) error {
	f, err := gradesheetFile(cmd)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	program := cmd.String("program")
	if program == "" {
		program = cfg.App.DefaultProgram
	}
	logger := internal.NewLogger(os.Stderr, cfg.App.LogLevel)

	preview, err := ingest.DryRun(f, program, cmd.String("regulation"), logger)
	if err != nil {
		return err
	}
	return printJSON(preview)
}

func search(ctx context.Context, cmd *cli.Command) error {
	return withRuntime(ctx, cmd, func(rt *internal.Runtime) error {
		res, err := rt.Service.Search(ctx, cmd.String("roll"), cmd.String("regulation"), cmd.String("program"))
		if err != nil {
			return err
		}
		return printJSON(res)
	})
}

func listStores(ctx context.Context, cmd *cli.Command) error {
	return withRuntime(ctx, cmd, func(rt *internal.Runtime) error {
		return printJSON(map[string]any{
			"stores":       rt.Service.Stores(),
			"search_order": rt.Service.SearchOrder(),
			"stats":        rt.Service.Stats(ctx),
			"web_apis":     rt.Service.WebAPIs(),
		})
	})
}

func main() {
	programFlag := &cli.StringFlag{
		Name:    "program",
		Aliases: []string{"p"},
		Usage:   "Program name (defaults to app.default_program)",
	}
	regulationFlag := &cli.StringFlag{
		Name:     "regulation",
		Aliases:  []string{"r"},
		Usage:    "Regulation year, e.g. 2016",
		Required: true,
	}

	cmd := &cli.Command{
		Name:   "gpahub",
		Usage:  "Student result lookup over gradesheet-derived stores with web API fallback",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the inbox watcher",
				Action: serve,
			},
			{
				Name:      "ingest",
				Usage:     "Parse a gradesheet text file and write it to the ingest store",
				ArgsUsage: "<gradesheet.txt>",
				Flags:     []cli.Flag{programFlag, regulationFlag},
				Action:    ingestFile,
			},
			{
				Name:      "parse",
				Usage:     "Dry-run a gradesheet and print what would be written",
				ArgsUsage: "<gradesheet.txt>",
				Flags:     []cli.Flag{programFlag, regulationFlag},
				Action:    parseFile,
			},
			{
				Name:  "search",
				Usage: "Look up one student's results",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "roll", Usage: "Roll number", Required: true},
					programFlag,
					regulationFlag,
				},
				Action: search,
			},
			{
				Name:   "stores",
				Usage:  "List configured stores with record counts",
				Action: listStores,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

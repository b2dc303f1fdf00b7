package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/andresuchdata/uploadprobe/internal/config"
	"github.com/andresuchdata/uploadprobe/internal/history"
	"github.com/andresuchdata/uploadprobe/internal/probe"
	"github.com/andresuchdata/uploadprobe/internal/storage"
	"github.com/andresuchdata/uploadprobe/pkg/logger"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const usageLine = "Usage: uploadprobe <file_path>"

// errReported marks failures whose message already reached the user.
var errReported = errors.New("reported")

type app struct {
	stdout io.Writer
	stderr io.Writer
	cfg    *config.Config
}

func probeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "verify",
			Usage: "Download the stored object and compare its SHA-256 with the local file",
		},
		&cli.BoolFlag{
			Name:  "inspect-bucket",
			Usage: "Stat the uploaded object directly in the bucket (needs STORAGE_* settings)",
		},
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	a := &app{stdout: stdout, stderr: stderr}

	return &cli.App{
		Name:            "uploadprobe",
		Usage:           "Exercise the upload API end to end: presign, upload, finalize, download",
		ArgsUsage:       "<file_path>",
		Writer:          stdout,
		ErrWriter:       stderr,
		HideHelpCommand: true,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Env file to read settings from",
				Value: config.DefaultEnvFile,
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "Upload API base URL",
				EnvVars: []string{"API_BASE_URL"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token",
				EnvVars: []string{"AUTH_TOKEN"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "HTTP client timeout, e.g. 500ms or 2m (default HTTP_TIMEOUT_SECONDS)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level",
				EnvVars: []string{"LOG_LEVEL"},
			},
		}, probeFlags()...),
		Before: a.setup,
		Action: a.runProbe,
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run the upload sequence once",
				ArgsUsage: "<file_path>",
				Flags:     probeFlags(),
				Action:    a.runProbe,
			},
			{
				Name:      "soak",
				Usage:     "Repeat the upload sequence and report failure rates and latency",
				ArgsUsage: "<file_path>",
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "runs",
						Usage: "Number of runs",
						Value: 10,
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Runs in flight at once",
						Value: 2,
					},
					&cli.Float64Flag{
						Name:  "rate",
						Usage: "Max run starts per second, 0 for unlimited",
					},
				}, probeFlags()...),
				Action: a.runSoak,
			},
			{
				Name:  "files",
				Usage: "Manage uploaded files",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List every file record",
						Action: a.listFiles,
					},
					{
						Name:      "info",
						Usage:     "Show one file record",
						ArgsUsage: "<id>",
						Action:    a.fileInfo,
					},
					{
						Name:      "rename",
						Usage:     "Change the filename of a record",
						ArgsUsage: "<id> <filename>",
						Action:    a.renameFile,
					},
					{
						Name:      "delete",
						Usage:     "Delete a record and its object",
						ArgsUsage: "<id>",
						Action:    a.deleteFile,
					},
				},
			},
			{
				Name:  "history",
				Usage: "Show recent runs recorded in Redis",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of runs to show",
						Value: 20,
					},
				},
				Action: a.showHistory,
			},
		},
	}
}

// setup loads the configuration; command line flags win over it.
func (a *app) setup(c *cli.Context) error {
	logger.SetOutput(a.stderr)

	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return err
	}

	if c.IsSet("base-url") && c.String("base-url") != "" {
		cfg.Probe.BaseURL = c.String("base-url")
	}
	if c.IsSet("token") {
		cfg.Probe.AuthToken = c.String("token")
	}
	if c.IsSet("timeout") {
		timeout := c.Duration("timeout")
		if timeout <= 0 {
			return fmt.Errorf("--timeout must be positive, got %s", timeout)
		}
		cfg.Probe.HTTPTimeout = timeout
	}
	if c.IsSet("log-level") && c.String("log-level") != "" {
		cfg.LogLevel = c.String("log-level")
	}
	logger.SetLevel(cfg.LogLevel)

	a.cfg = cfg
	return nil
}

func (a *app) newDriver(c *cli.Context, recorder history.Recorder) *probe.Driver {
	opts := []probe.Option{
		probe.WithOutput(a.stdout),
		probe.WithHistory(recorder),
	}

	if c.Bool("inspect-bucket") && a.cfg.Storage.Configured() {
		store, err := storage.NewMinioClient(storage.MinioConfig{
			Endpoint:  a.cfg.Storage.Endpoint,
			AccessKey: a.cfg.Storage.AccessKey,
			SecretKey: a.cfg.Storage.SecretKey,
			Bucket:    a.cfg.Storage.Bucket,
			Region:    a.cfg.Storage.Region,
			UseSSL:    a.cfg.Storage.UseSSL,
		})
		if err != nil {
			log.Warn().Err(err).Msg("bucket client unavailable")
		} else {
			opts = append(opts, probe.WithInspector(store, storage.KeyLayout{
				Prefix: a.cfg.Storage.KeyPrefix,
				Suffix: a.cfg.Storage.KeySuffix,
			}))
		}
	}

	return probe.New(probe.Config{
		BaseURL:       a.cfg.Probe.BaseURL,
		Token:         a.cfg.Probe.AuthToken,
		Timeout:       a.cfg.Probe.Timeout(),
		Verify:        c.Bool("verify"),
		InspectBucket: c.Bool("inspect-bucket"),
	}, opts...)
}

// openHistory never fails a probe run: an unreachable Redis only costs the
// history entry.
func (a *app) openHistory() history.Recorder {
	recorder, err := history.NewRecorder(a.cfg.History)
	if err != nil {
		log.Warn().Err(err).Msg("run history disabled")
		return history.NewNoopRecorder()
	}
	return recorder
}

func (a *app) singleArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		fmt.Fprintln(a.stdout, usageLine)
		return "", errReported
	}
	return c.Args().First(), nil
}

func (a *app) runProbe(c *cli.Context) error {
	path, err := a.singleArg(c)
	if err != nil {
		return err
	}

	recorder := a.openHistory()
	defer recorder.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err = a.newDriver(c, recorder).Run(ctx, path)
	return err
}

func (a *app) runSoak(c *cli.Context) error {
	path, err := a.singleArg(c)
	if err != nil {
		return err
	}

	recorder := a.openHistory()
	defer recorder.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := a.newDriver(c, recorder).Soak(ctx, path, probe.SoakOptions{
		Runs:        c.Int("runs"),
		Concurrency: c.Int("concurrency"),
		Rate:        c.Float64("rate"),
	})
	if summary != nil {
		fmt.Fprintf(a.stdout, "Runs: %d, succeeded: %d, failed: %d\n", summary.Runs, summary.Succeeded, summary.Failed)
		fmt.Fprintf(a.stdout, "Duration min %s, avg %s, max %s, total %s\n",
			summary.MinDuration, summary.AvgDuration, summary.MaxDuration, summary.TotalElapsed)
		for step, count := range summary.FailedSteps {
			fmt.Fprintf(a.stdout, "Failed at %s: %d\n", step, count)
		}
	}
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%w: %d of %d runs failed", errReported, summary.Failed, summary.Runs)
	}
	return nil
}

func (a *app) listFiles(c *cli.Context) error {
	records, err := a.newDriver(c, nil).Client().ListFiles(c.Context)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tSIZE\tUPLOADED\tCREATED")
	for _, record := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n",
			record.ID, record.Filename, record.Size, record.IsUploaded, record.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func (a *app) fileInfo(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected <id>, got %d arguments", c.NArg())
	}

	record, err := a.newDriver(c, nil).Client().GetFile(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	return a.printJSON(record)
}

func (a *app) renameFile(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected <id> <filename>, got %d arguments", c.NArg())
	}

	id, filename := c.Args().Get(0), c.Args().Get(1)
	if err := a.newDriver(c, nil).Client().RenameFile(c.Context, id, filename); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Renamed %s to %s\n", id, filename)
	return nil
}

func (a *app) deleteFile(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected <id>, got %d arguments", c.NArg())
	}

	id := c.Args().First()
	if err := a.newDriver(c, nil).Client().DeleteFile(c.Context, id); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Deleted %s\n", id)
	return nil
}

func (a *app) showHistory(c *cli.Context) error {
	if !a.cfg.History.Enabled {
		return errors.New("run history is disabled, set HISTORY_ENABLED=true")
	}

	recorder, err := history.NewRecorder(a.cfg.History)
	if err != nil {
		return err
	}
	defer recorder.Close()

	reports, err := recorder.Recent(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tRUN\tFILE\tRESULT\tDURATION")
	for _, report := range reports {
		result := "ok"
		if !report.Success {
			result = "failed at " + string(report.FailedStep)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			report.StartedAt.Format(time.RFC3339), report.ID, report.File, result, report.Duration.Round(time.Millisecond))
	}
	return w.Flush()
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/recall-backend/internal/app"
	"github.com/yungbote/recall-backend/internal/clients/redis"
	"github.com/yungbote/recall-backend/internal/config"
	"github.com/yungbote/recall-backend/internal/data/db"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "recall",
	Short:         "Conversational memory enrichment and retrieval service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (defaults to $RECALL_CONFIG)")

	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "Serve HTTP without running jobs")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "Run schema migration on startup")

	enqueueCmd.Flags().StringVar(&enqueueUser, "user", "", "Owner user id (required)")
	enqueueCmd.Flags().StringVar(&enqueueThread, "thread", "", "Thread id")
	enqueueCmd.Flags().StringVar(&enqueueContent, "content", "", "Message content override")
	enqueueCmd.Flags().BoolVar(&enqueueFollow, "follow", false, "Wait for the job and print its events")
	_ = enqueueCmd.MarkFlagRequired("user")

	retrieveCmd.Flags().StringVar(&retrieveUser, "user", "", "User id (required)")
	retrieveCmd.Flags().StringVar(&retrieveExclude, "exclude-thread", "", "Thread id to leave out")
	retrieveCmd.Flags().IntVar(&retrieveK, "k", 0, "Max memories (0 uses MEMORY_K)")
	_ = retrieveCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd, enqueueCmd, retrieveCmd, backfillCmd, migrateCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	serveNoWorker bool
	serveMigrate  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the job worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := app.New(cfg, app.Options{AutoMigrate: serveMigrate})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		if !serveNoWorker {
			if err := a.Start(ctx); err != nil {
				return err
			}
		}
		return a.Run(ctx)
	},
}

var (
	enqueueUser    string
	enqueueThread  string
	enqueueContent string
	enqueueFollow  bool
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <msg-id>",
	Short: "Queue enrichment for a stored message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid msg id %q: %w", args[0], err)
		}
		userID, err := uuid.Parse(enqueueUser)
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
		var threadID uuid.UUID
		if enqueueThread != "" {
			if threadID, err = uuid.Parse(enqueueThread); err != nil {
				return fmt.Errorf("invalid --thread: %w", err)
			}
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := app.New(cfg, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		var events chan redis.JobEvent
		if enqueueFollow && a.Clients.JobBus != nil {
			events = make(chan redis.JobEvent, 64)
			if err := a.Clients.JobBus.StartForwarder(ctx, func(ev redis.JobEvent) {
				select {
				case events <- ev:
				default:
				}
			}); err != nil {
				a.Log.Warn("job event subscription failed; falling back to polling", "error", err)
				events = nil
			}
		}

		job, created, err := a.Services.JobService.EnqueueMessageEnrich(dbctx.New(ctx), types.MessageEnrichPayload{
			MsgID:    msgID,
			UserID:   userID,
			ThreadID: threadID,
			Content:  enqueueContent,
		})
		if err != nil {
			return err
		}
		if err := printJSON(map[string]any{"job": job, "created": created}); err != nil {
			return err
		}
		if !enqueueFollow {
			return nil
		}
		return followJob(ctx, a, job.ID, events)
	},
}

// followJob prints events for jobID until the run settles. Without a job bus
// it polls the job row instead.
func followJob(ctx context.Context, a *app.App, jobID uuid.UUID, events <-chan redis.JobEvent) error {
	if events != nil {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-events:
				if ev.JobID != jobID {
					continue
				}
				if err := printJSON(ev); err != nil {
					return err
				}
				switch ev.Event {
				case redis.EventJobDone:
					return nil
				case redis.EventJobFailed:
					return fmt.Errorf("job %s failed at %s: %s", jobID, ev.Stage, ev.Error)
				}
			}
		}
	}

	t := time.NewTicker(time.Second)
	defer t.Stop()
	lastStage := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		job, err := a.Services.JobService.GetByID(dbctx.New(ctx), jobID)
		if err != nil {
			return err
		}
		if job.Stage != lastStage {
			lastStage = job.Stage
			fmt.Printf("%s status=%s stage=%s attempts=%d\n", jobID, job.Status, job.Stage, job.Attempts)
		}
		switch {
		case job.Status == types.JobStatusSucceeded:
			return printJSON(job)
		case job.Status == types.JobStatusFailed && !job.Retryable():
			return fmt.Errorf("job %s failed at %s: %s", jobID, job.Stage, job.Error)
		}
	}
}

var (
	retrieveUser    string
	retrieveExclude string
	retrieveK       int
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Print the memories a query would surface for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(retrieveUser)
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
		var exclude *uuid.UUID
		if retrieveExclude != "" {
			id, err := uuid.Parse(retrieveExclude)
			if err != nil {
				return fmt.Errorf("invalid --exclude-thread: %w", err)
			}
			exclude = &id
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := app.New(cfg, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()
		return printJSON(a.Services.Retriever.Retrieve(ctx, userID, args[0], exclude, retrieveK))
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill-embeddings",
	Short: "Embed one batch of messages stored without a vector",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := app.New(cfg, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()
		res, err := a.Services.Backfiller.Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update tables, extensions and indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.LogMode)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer log.Sync()

		pg, err := db.NewPostgresService(log, cfg.Postgres)
		if err != nil {
			return err
		}
		defer func() { _ = pg.Close() }()
		if err := pg.AutoMigrateAll(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("Migration complete")
		return nil
	},
}

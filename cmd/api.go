package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/cfolink/internal/api"
	"github.com/cfolink/internal/api/auth"
	"github.com/cfolink/internal/attachments"
	"github.com/cfolink/internal/config"
	"github.com/cfolink/internal/database"
	"github.com/cfolink/internal/jobqueue"
	"github.com/cfolink/internal/logging"
	"github.com/cfolink/internal/messaging"
	"github.com/cfolink/internal/messaging/memory"
	"github.com/cfolink/internal/messaging/postgres"
	"github.com/cfolink/internal/notify"
	"github.com/cfolink/internal/profile"
)

// APICommand returns the CLI command for starting the messaging API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the CFOLink messaging API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "Run against the in-memory store with demo profiles, no database",
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if c.Bool("dev") {
		cfg.Dev = true
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Pretty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := notify.NewHub(cfg.Messaging.NotifierBuffer)
	go hub.Run(ctx)

	var (
		repo  messaging.Repository
		users messaging.UserDirectory
		jobs  api.NotifyQueue
	)

	if cfg.Dev {
		repo = memory.NewRepository()
		users = devProfiles()
	} else {
		db, err := database.NewDB(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		repo = postgres.NewRepository(db)
		users = profile.NewStore(db)

		if cfg.Jobs.Enabled {
			queue, err := jobqueue.NewJobQueue(cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to create job queue: %w", err)
			}
			if err := queue.Start(ctx); err != nil {
				return fmt.Errorf("failed to start job queue: %w", err)
			}
			defer queue.Stop(context.Background())
			jobs = queue
		}
	}

	files, err := attachments.NewLocalStore(cfg.Attachments.Dir, cfg.Attachments.BaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up attachment storage: %w", err)
	}

	handlers := api.NewHandlers(
		messaging.NewResolver(repo, users),
		messaging.NewMessageService(repo, cfg.Messaging.MaxBodyLength),
		messaging.NewReadTracker(repo),
		messaging.NewDirectory(repo, users),
		hub,
		jobs,
		files,
	)

	tokenService := auth.NewTokenService(cfg.Auth.JWTSecret)

	server := api.NewServer(api.Options{
		Port:              cfg.Server.Port,
		SendRatePerMinute: cfg.Messaging.SendRatePerMinute,
		AttachmentDir:     cfg.Attachments.Dir,
	}, handlers, tokenService)

	fmt.Printf("Starting CFOLink messaging API on port %d...\n", cfg.Server.Port)
	return server.Start()
}

// devProfiles seeds one company and one CFO so dev mode is usable out of
// the box.
func devProfiles() *profile.StaticDirectory {
	dir := profile.NewStaticDirectory()
	dir.Add(messaging.UserInfo{UserID: "co-demo", DisplayName: "Demo Company", Role: messaging.RoleCompany})
	dir.Add(messaging.UserInfo{UserID: "cfo-demo", DisplayName: "Demo CFO", Role: messaging.RoleCFO})
	return dir
}

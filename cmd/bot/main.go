package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	_ "github.com/joho/godotenv/autoload"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/ad/go-telegram-tutor/internal/db"
	"github.com/ad/go-telegram-tutor/internal/handlers"
	"github.com/ad/go-telegram-tutor/internal/log"
	"github.com/ad/go-telegram-tutor/internal/models"
	"github.com/ad/go-telegram-tutor/internal/registry"
	"github.com/ad/go-telegram-tutor/internal/services"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type config struct {
	BotToken         string
	AdminID          int64
	DBPath           string
	Store            string
	PostgresDSN      string
	CatalogPath      string
	GitHubFlow       string
	GitHubAPIURL     string
	TickInterval     time.Duration
	TickSaveInterval time.Duration
	IdleTimeout      time.Duration
	Debug            bool
	JSONLogs         bool
}

func parseConfig(args []string) (*config, error) {
	c := &config{}
	app := kingpin.New("tutor-bot", "Telegram bot that walks learners through step-by-step tutorials.")

	app.Flag("bot-token", "Telegram bot token.").Envar("BOT_TOKEN").Required().StringVar(&c.BotToken)
	app.Flag("admin-id", "Telegram id that receives reports and may use /admin.").Envar("ADMIN_ID").Int64Var(&c.AdminID)
	app.Flag("db-path", "SQLite database for users and chat state.").Envar("DB_PATH").Default("tutor.db").StringVar(&c.DBPath)
	app.Flag("store", "Where tutorial progress is kept.").Envar("STORE").Default(StoreSQLite).EnumVar(&c.Store, StoreSQLite, StorePostgres, StoreMemory)
	app.Flag("postgres-dsn", "Postgres connection string for --store=postgres.").Envar("POSTGRES_DSN").StringVar(&c.PostgresDSN)
	app.Flag("catalog", "YAML tutorial catalog, reloaded on change. The built-in catalog is used when empty.").Envar("CATALOG").StringVar(&c.CatalogPath)
	app.Flag("github-flow", "Flow that offers the GitHub connection test.").Envar("GITHUB_FLOW").Default("github-connection").StringVar(&c.GitHubFlow)
	app.Flag("github-api-url", "GitHub API base URL.").Envar("GITHUB_API_URL").Default(services.DefaultGitHubAPIURL).StringVar(&c.GitHubAPIURL)
	app.Flag("tick-interval", "How often elapsed time is credited to the open step.").Envar("TICK_INTERVAL").Default("1s").DurationVar(&c.TickInterval)
	app.Flag("tick-save-interval", "Minimum time between saves caused by elapsed time alone.").Envar("TICK_SAVE_INTERVAL").Default("15s").DurationVar(&c.TickSaveInterval)
	app.Flag("idle-timeout", "Close wizards nobody touched for this long.").Envar("IDLE_TIMEOUT").Default("30m").DurationVar(&c.IdleTimeout)
	app.Flag("debug", "Enable debug logging.").Envar("DEBUG").BoolVar(&c.Debug)
	app.Flag("json-logs", "Log in JSON.").Envar("JSON_LOGS").BoolVar(&c.JSONLogs)

	if _, err := app.Parse(args); err != nil {
		return nil, err
	}
	if c.Store == StorePostgres && c.PostgresDSN == "" {
		return nil, fmt.Errorf("--postgres-dsn is required with --store=%s", StorePostgres)
	}
	return c, nil
}

type progressStore interface {
	services.ProgressStore
	handlers.Counter
}

func openProgressStore(ctx context.Context, cfg *config, queue *db.DBQueue) (progressStore, func(), error) {
	switch cfg.Store {
	case StorePostgres:
		repo, err := db.NewPostgresProgressRepository(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil
	case StoreMemory:
		return db.NewMemoryProgressRepository(), func() {}, nil
	default:
		return db.NewProgressRepository(queue), func() {}, nil
	}
}

func loadCatalog(path string) (*registry.Catalog, error) {
	if path == "" {
		return registry.Default()
	}
	return registry.LoadFile(path)
}

func main() {
	if err := Run(context.Background(), os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func Run(ctx context.Context, args []string, stderr io.Writer) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := log.New(stderr, cfg.Debug, cfg.JSONLogs)

	sqlDB, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer sqlDB.Close()

	if err := db.InitSchema(sqlDB); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	dbQueue := db.NewDBQueue(sqlDB)
	defer dbQueue.Close()

	progress, closeProgress, err := openProgressStore(ctx, cfg, dbQueue)
	if err != nil {
		return fmt.Errorf("failed to open progress store: %w", err)
	}
	defer closeProgress()

	userRepo := db.NewUserRepository(dbQueue)
	chatStateRepo := db.NewChatStateRepository(dbQueue)

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}

	b, err := bot.New(cfg.BotToken, bot.WithHTTPClient(15*time.Second, httpClient))
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	botInfo, err := getMe(ctx, b, logger)
	if err != nil {
		return err
	}

	persistence := services.NewPersistenceAdapter(progress, logger)
	lookup := services.NewGitHubLookup(services.GitHubLookupConfig{
		BaseURL:    cfg.GitHubAPIURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Logger:     logger,
	})

	var handler *handlers.BotHandler
	sessions, err := services.NewSessionManager(services.SessionManagerConfig{
		Catalog:          catalog,
		Persistence:      persistence,
		Lookups:          map[string]services.Lookup{cfg.GitHubFlow: lookup},
		TickInterval:     cfg.TickInterval,
		TickSaveInterval: cfg.TickSaveInterval,
		Logger:           logger,
		OnStepComplete: func(s *services.Session, stepID string) {
			handler.OnStepComplete(s, stepID)
		},
		OnFlowComplete: func(s *services.Session, final models.OverallProgress) {
			handler.OnFlowComplete(s, final)
		},
	})
	if err != nil {
		return err
	}
	defer sessions.CloseAll(context.Background())

	errorManager := services.NewErrorManager(b, cfg.AdminID, logger)
	msgManager := services.NewMessageManager(b, chatStateRepo, errorManager, logger)
	adminHandler := handlers.NewAdminHandler(b, cfg.AdminID, sessions, persistence, userRepo, progress, logger)

	handler = handlers.NewBotHandler(handlers.BotHandlerConfig{
		API:          b,
		AdminID:      cfg.AdminID,
		Sessions:     sessions,
		Messages:     msgManager,
		ErrorManager: errorManager,
		Users:        userRepo,
		ChatState:    chatStateRepo,
		Admin:        adminHandler,
		Logger:       logger,
	})
	errorManager.Location = handler.Location

	b.RegisterHandlerMatchFunc(func(update *tgmodels.Update) bool {
		return true
	}, handler.HandleUpdate, logMiddleware(logger))

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				logger.Infof("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Telegram long polling.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				logger.Infof("Bot @%s started. Admin ID: %d, store: %s, flows: %d",
					botInfo.Username, cfg.AdminID, cfg.Store, len(catalog.Flows()))
				b.Start(ctx)
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Idle wizards.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				return sessions.RunIdleSweeper(ctx, time.Minute, cfg.IdleTimeout)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Catalog hot reload.
	if cfg.CatalogPath != "" {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		watcher, err := registry.NewWatcher(registry.WatcherConfig{
			Path: cfg.CatalogPath,
			OnReload: func(c *registry.Catalog) {
				sessions.Reload(ctx, c)
			},
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("failed to watch catalog: %w", err)
		}
		g.Add(
			func() error {
				return watcher.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

func getMe(ctx context.Context, b *bot.Bot, logger logrus.FieldLogger) (*tgmodels.User, error) {
	var err error
	for i := 0; i < 3; i++ {
		logger.Infof("Attempting to connect to Telegram API (attempt %d/3)...", i+1)
		getMeCtx, getMeCancel := context.WithTimeout(ctx, 10*time.Second)
		var botInfo *tgmodels.User
		botInfo, err = b.GetMe(getMeCtx)
		getMeCancel()
		if err == nil {
			return botInfo, nil
		}
		logger.Warningf("Failed to get bot info (attempt %d/3): %v", i+1, err)
		if i < 2 {
			time.Sleep(2 * time.Second)
		}
	}
	return nil, fmt.Errorf("failed to get bot info after 3 attempts: %w", err)
}

func formatUser(u tgmodels.User) string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if u.Username != "" {
		name += " @" + u.Username
	}
	return fmt.Sprintf("%s [%d]", name, u.ID)
}

func logMiddleware(logger logrus.FieldLogger) bot.Middleware {
	logger = log.For(logger, "bot")
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
			if update.Message != nil && update.Message.From != nil {
				logger.WithField("from", formatUser(*update.Message.From)).Debugf("Message %q", update.Message.Text)
			}
			if update.CallbackQuery != nil {
				logger.WithField("from", formatUser(update.CallbackQuery.From)).Debugf("Callback %q", update.CallbackQuery.Data)
			}
			next(ctx, b, update)
		}
	}
}

package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/trackx/internal/ledger"
	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/repositories"
	"github.com/desertthunder/trackx/internal/services"
	"github.com/desertthunder/trackx/internal/shared"
	"github.com/desertthunder/trackx/internal/tasks"
	"github.com/desertthunder/trackx/internal/tokens"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Storage and remote dependencies are built on first use by [Runner.open] so commands like
// "setup config" work without a database or tracker credentials.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer

	db          *sql.DB
	ownsDB      bool
	gateway     services.Gateway
	tracker     *services.TrackerService
	credentials *repositories.CredentialRepository
	tokens      *tokens.Coordinator
	ledger      *ledger.Ledger
	engine      *tasks.SyncEngine
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	DB         *sql.DB          // optional; opened from config when nil
	Gateway    services.Gateway // optional; a TrackerService is built from config when nil
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		db:         opts.DB,
		gateway:    opts.Gateway,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, syncCommand, historyCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig resolves the config once, from --config when the command has it.
func (r *Runner) loadConfig(cmd *cli.Command) *shared.Config {
	if r.config != nil {
		return r.config
	}

	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}
	if r.configPath == "" {
		r.configPath = "config.toml"
	}

	config := shared.DefaultConfig()
	if _, err := os.Stat(r.configPath); err == nil {
		loaded, err := shared.LoadConfig(r.configPath)
		if err != nil {
			r.logger.Warn("failed to load config, using defaults", "path", r.configPath, "error", err)
		} else {
			config = loaded
		}
	} else {
		r.logger.Debug("config file not found, using defaults", "path", r.configPath)
	}

	shared.SetLogLevel(r.logger, shared.ParseLogLevel(config.Log.Level))
	r.config = config
	return config
}

// openStore opens the database and the ledger. History commands need nothing else.
func (r *Runner) openStore(cmd *cli.Command) error {
	if r.ledger != nil {
		return nil
	}
	config := r.loadConfig(cmd)

	if r.db == nil {
		db, err := shared.NewDatabase(config.Database.Path)
		if err != nil {
			return err
		}
		shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)
		if err := shared.RunMigrations(db); err != nil {
			db.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		r.db = db
		r.ownsDB = true
	}

	r.credentials = repositories.NewCredentialRepository(r.db)
	r.ledger = ledger.New(repositories.NewSyncRunRepository(r.db), shared.SystemClock{}, r.logger)
	return nil
}

// history returns the read-only ledger view used by reporting commands.
func (r *Runner) history() ledger.RunReader {
	return r.ledger
}

// open wires the remote gateway, the token coordinator and the sync engine on top of [Runner.openStore].
func (r *Runner) open(cmd *cli.Command) error {
	if r.engine != nil {
		return nil
	}
	if err := r.openStore(cmd); err != nil {
		return err
	}
	config := r.config

	if r.gateway == nil {
		if err := config.Validate(); err != nil {
			return err
		}
		tracker, err := services.NewTrackerService(config.Credentials.Tracker, config.Tracker, r.logger)
		if err != nil {
			return err
		}
		tracker.SetHTTPClient(r.httpClient)
		r.tracker = tracker
		r.gateway = tracker
	}

	client := services.ClientCredentials{
		ClientID:     config.Credentials.Tracker.ClientID,
		ClientSecret: config.Credentials.Tracker.ClientSecret,
	}
	r.tokens = tokens.NewCoordinator(r.credentials, r.gateway, client,
		tokens.WithRefreshBuffer(config.Sync.RefreshBuffer.Duration),
		tokens.WithLogger(r.logger),
	)
	r.engine = tasks.NewSyncEngine(r.gateway, r.tokens, r.ledger, tasks.Stores{
		Projects: repositories.NewProjectRepository(r.db),
		Users:    repositories.NewUserRepository(r.db),
		Tasks:    repositories.NewTaskRepository(r.db),
	}, tasks.EngineConfig{
		Provider:  config.Tracker.Provider,
		PageSize:  config.Sync.PageSize,
		MaxOffset: config.Sync.MaxOffset,
	}, r.logger)

	return nil
}

// Close releases the database when the runner opened it.
func (r *Runner) Close() error {
	if r.db != nil && r.ownsDB {
		return r.db.Close()
	}
	return nil
}

// userID returns --user when set, else the configured local user.
func (r *Runner) userID(cmd *cli.Command) string {
	if id := cmd.String("user"); id != "" {
		return id
	}
	return r.config.Sync.UserID
}

func (r *Runner) credentialKey(cmd *cli.Command) models.CredentialKey {
	return models.CredentialKey{UserID: r.userID(cmd), Provider: r.config.Tracker.Provider}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/universetools/ordersync/internal/config"
	"github.com/universetools/ordersync/internal/logger"
	"github.com/universetools/ordersync/internal/model"
	"github.com/universetools/ordersync/internal/repo"
	"github.com/universetools/ordersync/internal/service"
	"github.com/universetools/ordersync/internal/universe"
)

// SyncOptions holds flags for the sync command. Every flag falls back to its
// env var (see config.Load) when not given.
type SyncOptions struct {
	*RootOptions
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	DSN             string
	PageLimit       int
	BackfillDays    int
	IncludeInactive bool
}

// NewSyncCommand creates the incremental sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Incrementally load orders of all active events into Postgres",
		Long: `Selects events due for sync from the database, fetches each event's
orders changed since its watermark (minus the backfill window) and upserts
orders, items and rate snapshots. Each event commits independently.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "Universe OAuth client id (env UNIVERSE_CLIENT_ID)")
	cmd.Flags().StringVar(&opts.ClientSecret, "client-secret", "", "Universe OAuth client secret (env UNIVERSE_CLIENT_SECRET)")
	cmd.Flags().StringVar(&opts.RefreshToken, "refresh-token", "", "Universe OAuth refresh token (env UNIVERSE_REFRESH_TOKEN)")
	cmd.Flags().StringVar(&opts.DSN, "pg-dsn", "", "Postgres DSN (env POSTGRES_DSN)")
	cmd.Flags().IntVar(&opts.PageLimit, "limit", 0, "orders per page, clamped 1-50 (env UNIVERSE_PAGE_LIMIT)")
	cmd.Flags().IntVar(&opts.BackfillDays, "backfill-days", 0, "days re-fetched before the watermark (env WM_BACKFILL_DAYS)")
	cmd.Flags().BoolVar(&opts.IncludeInactive, "include-inactive", false, "also sync events with fetch_state <> 'active'")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("missing flags or env vars: [pg-dsn]")
	}

	log, err := logger.NewLogger(opts.Verbose)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	client := universe.NewClient(log)
	if err := client.Authenticate(cmd.Context(), cfg.Universe.ClientID, cfg.Universe.ClientSecret, cfg.Universe.RefreshToken); err != nil {
		return err
	}
	log.Info("got access token")

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if err := gdb.AutoMigrate(&model.Event{}, &model.TicketOrder{}, &model.OrderItem{}, &model.Rate{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	repository := repo.NewRepository(gdb, log)
	svc := service.NewSyncService(repository, client, log,
		cfg.Sync.PageLimit, cfg.Sync.BackfillDays, cfg.Sync.IncludeInactive)

	_, err = svc.Run(cmd.Context())
	return err
}

// loadConfig layers yaml file, env vars and explicit flags, then validates
// and clamps.
func loadConfig(cmd *cobra.Command, opts *SyncOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("client-id") {
		cfg.Universe.ClientID = opts.ClientID
	}
	if cmd.Flags().Changed("client-secret") {
		cfg.Universe.ClientSecret = opts.ClientSecret
	}
	if cmd.Flags().Changed("refresh-token") {
		cfg.Universe.RefreshToken = opts.RefreshToken
	}
	if cmd.Flags().Changed("pg-dsn") {
		cfg.Postgres.DSN = opts.DSN
	}
	if cmd.Flags().Changed("limit") {
		cfg.Sync.PageLimit = opts.PageLimit
	}
	if cmd.Flags().Changed("backfill-days") {
		cfg.Sync.BackfillDays = opts.BackfillDays
	}
	if cmd.Flags().Changed("include-inactive") {
		cfg.Sync.IncludeInactive = opts.IncludeInactive
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, err
	}
	cfg.Sync.Normalize()
	return cfg, nil
}

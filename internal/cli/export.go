package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/universetools/ordersync/internal/config"
	"github.com/universetools/ordersync/internal/export"
	"github.com/universetools/ordersync/internal/logger"
	"github.com/universetools/ordersync/internal/universe"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	EventID      string
	Outfile      string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// NewExportCommand creates the one-off CSV dump command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump all orders of one event to a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.EventID, "event-id", os.Getenv("UNIVERSE_EVENT_ID"), "Universe event id (env UNIVERSE_EVENT_ID)")
	cmd.Flags().StringVar(&opts.Outfile, "outfile", "orders.csv", "output CSV path")
	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "Universe OAuth client id (env UNIVERSE_CLIENT_ID)")
	cmd.Flags().StringVar(&opts.ClientSecret, "client-secret", "", "Universe OAuth client secret (env UNIVERSE_CLIENT_SECRET)")
	cmd.Flags().StringVar(&opts.RefreshToken, "refresh-token", "", "Universe OAuth refresh token (env UNIVERSE_REFRESH_TOKEN)")

	return cmd
}

func runExport(cmd *cobra.Command, opts *ExportOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
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
	if err := cfg.ValidateCredentials(); err != nil {
		return err
	}
	if opts.EventID == "" {
		return fmt.Errorf("missing flags or env vars: [event-id]")
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

	f, err := os.Create(opts.Outfile)
	if err != nil {
		return fmt.Errorf("create %s: %w", opts.Outfile, err)
	}
	defer f.Close()

	exporter := export.NewExporter(client, log)
	if _, _, err := exporter.Run(cmd.Context(), opts.EventID, f); err != nil {
		return err
	}
	log.Infof("CSV %q ready", opts.Outfile)
	return nil
}

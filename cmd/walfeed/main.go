package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/walfeed/walfeed/internal/alert"
	"github.com/walfeed/walfeed/internal/bus"
	"github.com/walfeed/walfeed/internal/cdc"
	"github.com/walfeed/walfeed/internal/config"
	"github.com/walfeed/walfeed/internal/state"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "walfeed",
	Short: "Walfeed - PostgreSQL change-data-capture ingester",
	Long:  `Streams logical replication changes from PostgreSQL and publishes them as JSON events`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "walfeed.yaml", "config file path")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
}

func replicationConfig(cfg *config.Config) *cdc.ReplicationConfig {
	return &cdc.ReplicationConfig{
		URL:             cfg.Replication.DB.URL,
		Username:        cfg.Replication.DB.Username,
		Password:        cfg.Replication.DB.Password,
		SlotName:        cfg.Replication.DB.Slot,
		PublicationName: cfg.Replication.DB.Publication,
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("walfeed v0.1.0")
		fmt.Println("PostgreSQL CDC Ingester")
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the replication slot and publication",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx := context.Background()
		repCfg := replicationConfig(cfg)

		if err := cdc.CreatePublicationIfNotExists(ctx, repCfg); err != nil {
			return fmt.Errorf("failed to create publication: %w", err)
		}
		if err := cdc.CreateSlotIfNotExists(ctx, repCfg); err != nil {
			return fmt.Errorf("failed to create slot: %w", err)
		}

		if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		fmt.Printf("Initialized slot %s and publication %s\n",
			cfg.Replication.DB.Slot, cfg.Replication.DB.Publication)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the CDC ingester",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logrus.WithFields(logrus.Fields{
			"slot":        cfg.Replication.DB.Slot,
			"publication": cfg.Replication.DB.Publication,
		}).Info("starting walfeed")

		if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := state.Open(filepath.Join(cfg.Node.DataDir, "walfeed.db"))
		if err != nil {
			return fmt.Errorf("failed to open state store: %w", err)
		}
		defer store.Close()

		eventBus := bus.New()
		eventBus.Subscribe(func(event string) error {
			logrus.WithField("event", event).Info("change received")
			return nil
		})

		manager := cdc.NewManager(replicationConfig(cfg), eventBus)
		manager.SetProgressStore(store)

		alertManager := alert.NewManager(cfg.Alerts.Enabled, cfg.Alerts.SlackWebhook)
		manager.SetAlertManager(alertManager)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("failed to start replication: %w", err)
		}

		logrus.Info("walfeed is running, press Ctrl+C to stop")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logrus.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := manager.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop replication: %w", err)
		}

		_ = alertManager.SendSystemAlert("Walfeed stopped",
			fmt.Sprintf("Ingester on slot %s shut down", cfg.Replication.DB.Slot), "good")

		logrus.Info("walfeed stopped")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display replication progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		store, err := state.Open(filepath.Join(cfg.Node.DataDir, "walfeed.db"))
		if err != nil {
			return fmt.Errorf("failed to open state store: %w", err)
		}
		defer store.Close()

		progress, err := store.Progress()
		if err != nil {
			return fmt.Errorf("failed to read progress: %w", err)
		}

		fmt.Printf("Slot: %s\n", cfg.Replication.DB.Slot)
		fmt.Printf("Publication: %s\n", cfg.Replication.DB.Publication)
		fmt.Printf("Acked LSN: %X/%X\n", uint32(progress.AckedLSN>>32), uint32(progress.AckedLSN))
		fmt.Printf("Events published: %d\n", progress.EventsPublished)
		fmt.Printf("Stream rebuilds: %d\n", progress.Reconnects)
		if !progress.SessionStartedAt.IsZero() {
			fmt.Printf("Session started: %s\n", progress.SessionStartedAt.Format(time.RFC3339))
		}
		if !progress.UpdatedAt.IsZero() {
			fmt.Printf("Last update: %s\n", progress.UpdatedAt.Format(time.RFC3339))
		}

		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

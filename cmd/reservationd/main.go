package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/availability"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/config"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/docker"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/launch"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/logging"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/metrics"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/notify"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/policy"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/portalloc"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/reconciler"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/storage"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "reservationd",
	Short:   "Node agent for the container reservation platform",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("reservationd version %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciliation loop for this computer",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logging.Init(logging.Config{
			Level:      logging.Level(cfg.Logging.Level),
			JSONOutput: cfg.Logging.JSONOutput,
		})
		logger := logging.WithComponent("reservationd")

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		computer, err := store.GetComputerByName(cfg.ServerName)
		if err != nil {
			return fmt.Errorf("computer %q is not registered (run reservationctl computer add first): %w", cfg.ServerName, err)
		}

		resolver := policy.NewResolver(store)
		avail := availability.NewEngine(store, resolver)
		ports := portalloc.NewAllocator(store, cfg.Ports.RangeStart, cfg.Ports.RangeEnd)
		notifier := notify.NewLoggingNotifier(cfg.Notify.AdminAlertsEnabled, cfg.Notify.AdminEmails)

		effector, err := docker.NewClient()
		if err != nil {
			return fmt.Errorf("failed to connect to docker: %w", err)
		}
		defer effector.Close()

		launcher := launch.NewLauncher(store, resolver, ports, effector, notifier, launch.Config{
			RegistryAddress: cfg.Registry.Address,
			RunConfigHook:   cfg.Launch.RunConfigHook,
			RAMDiskEnabled:  cfg.RAMDiskEnabled,
		})

		recon := reconciler.New(store, effector, launcher, computer.ID)
		recon.Start()
		logger.Info().Str("computer", computer.Name).Msg("reconciler started")

		metrics.SetVersion(Version)
		metrics.RegisterComponent("storage", true, "")
		metrics.RegisterComponent("docker", true, "")

		go func() {
			http.Handle("/metrics", metrics.Handler())
			http.HandleFunc("/health", metrics.HealthHandler())
			http.HandleFunc("/ready", metrics.ReadyHandler())
			http.HandleFunc("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(cfg.Metrics.ListenAddress, nil); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		logger.Info().Str("address", cfg.Metrics.ListenAddress).Msg("metrics endpoint listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("shutting down")
		recon.Stop()
		return nil
	},
}

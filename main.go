package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kartoza/kickstarter-guide/internal/artifacts"
	"github.com/kartoza/kickstarter-guide/internal/config"
	"github.com/kartoza/kickstarter-guide/internal/logging"
	"github.com/kartoza/kickstarter-guide/internal/predict"
	"github.com/kartoza/kickstarter-guide/internal/server"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "kickstarter-guide",
	Short: "Kickstarter Success Guide",
	Long:  "Interactive tool to check for the success of a Kickstarter.\nRuns the web application when no subcommand is given.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web application",
	RunE:  runServe,
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict one campaign from the command line",
	RunE:  runPredict,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().String("artifacts-dir", "", "Directory containing the model and pipelines")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().Int("port", 0, "HTTP server port")
	}

	predictCmd.Flags().String("blurb", "", "Campaign pitch")
	predictCmd.Flags().Int64("backers", 0, "Expected number of backers")
	predictCmd.Flags().String("goal", "", "Funding goal")
	predictCmd.MarkFlagRequired("blurb")
	predictCmd.MarkFlagRequired("goal")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig binds explicitly set flags over file, env and defaults
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	bindings := map[string]string{
		"port":          "server.port",
		"artifacts-dir": "artifacts.dir",
		"log-level":     "log.level",
	}
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := bindings[f.Name]
		if !ok || !f.Changed || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	if bindErr != nil {
		return nil, bindErr
	}

	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, err
	}
	cfg.Version = version

	logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, os.Stderr)
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logging.New("main")

	// Find an available port (try consecutive ports starting from the requested one)
	port, err := findAvailablePort(cfg.Server.Port, cfg.Server.PortAttempts)
	if err != nil {
		return fmt.Errorf("failed to find available port: %w", err)
	}
	if port != cfg.Server.Port {
		log.Warn("port in use, using another", "requested", cfg.Server.Port, "port", port)
	}
	cfg.Server.Port = port

	log.Info("Kickstarter Success Guide starting", "version", version, "port", cfg.Server.Port)
	log.Info("loading artifacts", "dir", cfg.Artifacts.Dir)

	srv, err := server.New(*cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
		if err := srv.Stop(); err != nil {
			log.Error("error during shutdown", "error", err)
		}
	}
	return nil
}

func runPredict(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	blurb, _ := cmd.Flags().GetString("blurb")
	backers, _ := cmd.Flags().GetInt64("backers")
	rawGoal, _ := cmd.Flags().GetString("goal")
	goal, err := predict.ParseGoal(rawGoal)
	if err != nil {
		return fmt.Errorf("goal: %w", err)
	}

	set, err := artifacts.Load(artifacts.PathsFrom(cfg.Artifacts))
	if err != nil {
		return err
	}
	if err := set.CheckWidths(); err != nil {
		slog.Warn("artifact widths disagree", "error", err)
	}

	svc, err := predict.NewService(set.Model, set.Text, set.Quant)
	if err != nil {
		return err
	}

	res, err := svc.Predict(context.Background(), predict.Request{Blurb: blurb, Backers: backers, Goal: goal})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return nil
}

// findAvailablePort finds an available port, starting from the given port.
// If the port is in use, it tries subsequent ports up to maxAttempts times.
func findAvailablePort(startPort int, maxAttempts int) (int, error) {
	for i := 0; i < maxAttempts; i++ {
		port := startPort + i
		addr := fmt.Sprintf(":%d", port)
		listener, err := net.Listen("tcp", addr)
		if err == nil {
			listener.Close()
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available port found after %d attempts starting from %d", maxAttempts, startPort)
}

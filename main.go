package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"os/signal"
	goruntime "runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"imagery-explorer/internal/config"
)

//go:embed all:web/static
var staticAssets embed.FS

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var addrFlag string
	var dataDirFlag string
	var envFileFlag string
	var openFlag bool
	var devFlag bool

	rootCmd := &cobra.Command{
		Use:   "imagery-explorer",
		Short: "Browser-based satellite imagery explorer",
		Long: `Imagery Explorer serves a local web UI for searching public STAC
catalogs, rendering Sentinel, Landsat and DEM imagery through a TiTiler
instance, and exporting selected scenes as tile sets, GeoTIFF rasters or
animated timelapses.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addrFlag, dataDirFlag, envFileFlag, openFlag, devFlag)
		},
	}

	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (default "+config.DefaultAddr+")")
	rootCmd.Flags().StringVar(&dataDirFlag, "data-dir", "", "directory for settings, workspaces and the export queue")
	rootCmd.Flags().StringVar(&envFileFlag, "env-file", ".env", "dotenv file with endpoint overrides")
	rootCmd.Flags().BoolVar(&openFlag, "open", false, "open the UI in the default browser after startup")
	rootCmd.Flags().BoolVar(&devFlag, "dev", false, "verbose upstream request logging")

	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("imagery-explorer %s (commit %s)\n", AppVersion, Commit)
		},
	}
}

func run(addr, dataDir, envFile string, openBrowserFlag, devMode bool) error {
	config.LoadEnvFile(envFile)

	if addr == "" {
		addr = config.GetAddr()
	}
	if dataDir == "" {
		dataDir = config.GetDataDir()
	}

	app, err := NewApp(dataDir)
	if err != nil {
		return err
	}

	static, err := fs.Sub(staticAssets, "web/static")
	if err != nil {
		return fmt.Errorf("failed to load embedded UI assets: %w", err)
	}

	if err := app.Start(addr, static, devMode); err != nil {
		return err
	}
	log.Printf("[Main] Imagery Explorer %s ready at %s", AppVersion, app.URL())

	if openBrowserFlag {
		openBrowser(app.URL())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	stop()

	log.Printf("[Main] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app.Shutdown(shutdownCtx)

	return nil
}

// openBrowser launches the system browser at the given URL. Failures
// are logged only; the server keeps running either way.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Printf("[Main] Failed to open browser: %v", err)
	}
}

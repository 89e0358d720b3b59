// Package main provides the audiocache CLI for warming, inspecting and
// clearing the just-audio-cache download cache outside of playback.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	audiocache "github.com/steveroseik/just-audio-cache"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	cacheDir   string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "audiocache",
		Short: "Manage the just-audio-cache download cache",
		Long: "Warm, inspect and clear the local download cache used for " +
			"offline audio playback.",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if viper.GetBool("debug") {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
)

// cliConfig mirrors the config file keys. Environment variables take
// precedence over the file, flags over both.
type cliConfig struct {
	CacheDir        string        `env:"AUDIOCACHE_CACHE_DIR"`
	DownloadTimeout time.Duration `env:"AUDIOCACHE_DOWNLOAD_TIMEOUT"`
	Debug           bool          `env:"AUDIOCACHE_DEBUG"`
}

func loadCLIConfig() (cliConfig, error) {
	c := cliConfig{
		CacheDir:        viper.GetString("cache_dir"),
		DownloadTimeout: viper.GetDuration("download_timeout"),
		Debug:           viper.GetBool("debug"),
	}
	if err := env.Parse(&c); err != nil {
		return c, fmt.Errorf("parse environment: %w", err)
	}
	return c, nil
}

func newManager() (*audiocache.Manager, error) {
	c, err := loadCLIConfig()
	if err != nil {
		return nil, err
	}
	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}
	// No engine: the CLI never plays audio.
	return audiocache.NewManager(nil, &audiocache.Config{
		CacheDir:        c.CacheDir,
		DownloadTimeout: c.DownloadTimeout,
		Logger:          log.Default(),
	})
}

var prefetchCmd = &cobra.Command{
	Use:   "prefetch URL...",
	Short: "Download URLs into the cache without playing them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		failures := 0
		for _, url := range args {
			path, err := mgr.Prefetch(ctx, url)
			if err != nil {
				failures++
				log.Error("prefetch failed", "url", url, "err", err)
				continue
			}
			fmt.Println(path)
		}
		if failures > 0 {
			return fmt.Errorf("%d of %d prefetches failed", failures, len(args))
		}
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached files",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}

		entries, err := mgr.Entries()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("cache is empty")
			return nil
		}

		var total uint64
		for _, e := range entries {
			size := humanize.Bytes(uint64(e.SizeBytes))
			if e.Missing {
				size = "missing"
			}
			total += uint64(e.SizeBytes)
			fmt.Printf("%-10s %s\n", size, e.LocalPath)
		}
		fmt.Printf("%d file(s), %s\n", len(entries), humanize.Bytes(total))
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached file and empty the index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}

		report, err := mgr.ClearCache(cmd.Context())
		fmt.Printf("deleted %d, already missing %d, failed %d\n",
			report.Deleted, report.Missing, len(report.Failed))
		return err
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm URL...",
	Short: "Evict specific URLs from the cache",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}

		for _, url := range args {
			if err := mgr.Remove(url); err != nil {
				return fmt.Errorf("remove %s: %w", url, err)
			}
		}
		return nil
	},
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "cache directory")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")

	_ = viper.BindPFlag("cache_dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	viper.SetDefault("cache_dir", "")
	viper.SetDefault("download_timeout", time.Duration(0))

	rootCmd.AddCommand(prefetchCmd, lsCmd, clearCmd, rmCmd, configCmd)
}

// configSearchDirs returns the config directories in priority order:
// AUDIOCACHE_CONFIG_HOME, then XDG_CONFIG_HOME, then the platform dirs.
func configSearchDirs() ([]string, error) {
	scope := gap.NewScope(gap.User, "audiocache")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		return nil, err
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "audiocache")}, dirs...)
	}

	if c := os.Getenv("AUDIOCACHE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	return dirs, nil
}

func tryLoadConfigFromDefaultPlaces() {
	dirs, err := configSearchDirs()
	if err != nil {
		fmt.Println("Could not find the configuration directory.")
		os.Exit(1)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("audiocache")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("audiocache")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# directory cached audio files live in (default: user cache dir)
cache_dir: ""
# per-download timeout, e.g. "30s" ("0" = no timeout)
download_timeout: "0"
# verbose logging
debug: false
`

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Edit the audiocache config file",
	Long: "Edit the audiocache config file. EDITOR determines which editor " +
		"to use. If the config file doesn't exist, it will be created.",
	Example: "audiocache config\naudiocache config --config path/to/audiocache.yml",
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("audiocache", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
	}

	// First run: no --config flag, no discovered file. Fall back to the
	// preferred config directory.
	if configFile == "" {
		dirs, err := configSearchDirs()
		if err != nil {
			return fmt.Errorf("could not determine configuration directory: %w", err)
		}
		if len(dirs) == 0 {
			return errors.New("could not determine configuration directory")
		}
		configFile = filepath.Join(dirs[0], "audiocache.yml")
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}

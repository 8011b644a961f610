package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/logging"
)

const defaultConfigPath = "config/config.toml"

var (
	configPath string
	modeFlag   string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "alignoracle",
	Short: "Refine ontology alignments with an LLM oracle",
	Long: `alignoracle takes the candidate mappings of an ontology alignment engine,
asks an LLM oracle about the ones the engine is least sure of, and merges
the verdicts back into a refined alignment.

Settings are read from a TOML file (--config, $CONFIG_PATH or
config/config.toml); LLM_PROVIDER, LLM_MODEL, LLM_API_KEY, LLM_BASE_URL and
ALIGNORACLE_MODE override it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		c, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		c.ApplyEnv()
		if modeFlag != "" {
			c.Pipeline.Mode = modeFlag
		}
		if verbose {
			c.Logging.Level = "debug"
		}

		logger, err = logging.New(c.Logging)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the TOML configuration")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "pipeline mode: alignment_only, consultation_only or full_loop")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd, selectCmd, serveCmd)
}

// loadConfig reads path, or $CONFIG_PATH, or the default location. Only an
// explicitly named file has to exist.
func loadConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
		explicit = path != ""
	}
	if path == "" {
		path = defaultConfigPath
	}
	c, err := config.Load(path)
	if err == nil {
		return c, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/voicecmd/pkg/audio/pcm"
	"github.com/haivivi/voicecmd/pkg/cli"
	"github.com/haivivi/voicecmd/pkg/features"
	"github.com/haivivi/voicecmd/pkg/kv"
	"github.com/haivivi/voicecmd/pkg/model"
	"github.com/haivivi/voicecmd/pkg/settings"
	"github.com/haivivi/voicecmd/pkg/storage"
)

const appName = "voicecmd"

var (
	// Global flags
	cfgFile      string
	contextName  string
	outputFormat string
	verbose      bool

	// Global configuration
	globalConfig *cli.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "voicecmd",
	Short: "Voice command recognizer",
	Long: `voicecmd - recognize spoken text-formatting commands.

Speech is segmented by energy, converted to MFCC features and classified
into one of sixteen commands (bold, italic, align_left, ...). Utterances
the model is not confident about are rejected.

Configuration is stored in ~/.voicecmd/voicecmd/ and supports multiple
contexts, similar to kubectl's context management.

Examples:
  # Create smoke-test weights and point the default context at them
  voicecmd weights init --seed 1 --out ~/models/voicecmd.msgpack
  voicecmd config context set default weights=~/models/voicecmd.msgpack

  # Listen on the default microphone
  voicecmd listen

  # Classify recordings
  voicecmd classify -o json take1.wav take2.wav
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return initConfig()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.voicecmd/voicecmd/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context name to use")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: yaml, json or raw")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(weightsCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

func initConfig() error {
	var err error
	globalConfig, err = cli.LoadConfigWithPath(appName, cfgFile)
	if err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// getConfig returns the global configuration
func getConfig() *cli.Config {
	return globalConfig
}

// getContext returns the context configuration to use
func getContext() (*cli.Context, error) {
	cfg := getConfig()
	if cfg == nil {
		return nil, errors.New("configuration not initialized")
	}
	return cfg.ResolveContext(contextName)
}

// outputResult outputs the result using cli package
func outputResult(result any) error {
	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.Output(result, cli.OutputOptions{Format: format, Writer: cli.Stdout})
}

// printVerbose prints verbose output if enabled
func printVerbose(format string, args ...any) {
	cli.PrintVerbose(verbose, format, args...)
}

// storageOptions returns the artifact store options for ctx.
func storageOptions(ctx *cli.Context) storage.Options {
	return storage.Options{S3: ctx.S3Config()}
}

// openSettings opens the persisted settings store. The caller closes the
// returned kv.Store.
func openSettings() (*settings.Store, kv.Store, error) {
	paths, err := cli.NewPaths(appName)
	if err != nil {
		return nil, nil, err
	}
	if err := paths.EnsureDataDir(); err != nil {
		return nil, nil, err
	}
	db, err := kv.NewBadger(kv.BadgerOptions{Dir: paths.KVDir()})
	if err != nil {
		return nil, nil, err
	}
	return settings.NewStore(db), db, nil
}

// loadClassifier reads the context's weights artifact and builds the
// classifier around ext.
func loadClassifier(ctx context.Context, c *cli.Context, weights string, ext *features.Extractor) (*model.Classifier, error) {
	if weights == "" {
		weights = c.Weights
	}
	if weights == "" {
		return nil, fmt.Errorf("no weights configured for context %q; set one with 'voicecmd config context set %s weights=PATH' or pass --weights",
			c.Name, c.Name)
	}
	loc, err := storage.Open(weights, storageOptions(c))
	if err != nil {
		return nil, err
	}
	r, err := loc.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open weights %s: %w", loc, err)
	}
	defer r.Close()
	w, err := model.ReadWeights(r)
	if err != nil {
		return nil, fmt.Errorf("read weights %s: %w", loc, err)
	}
	printVerbose("loaded %d tensors (%d parameters) from %s", len(w.Names()), w.NumParams(), loc)
	return model.New(w, model.WithExtractor(ext))
}

// newExtractor builds the feature front-end for the context's maximum
// utterance duration.
func newExtractor(c *cli.Context) (*features.Extractor, error) {
	return features.New(features.Config{MaxSamples: maxSamples(c)})
}

func maxSamples(c *cli.Context) int {
	return int(pcm.L16Mono16K.SamplesInDuration(c.MaxDuration()))
}

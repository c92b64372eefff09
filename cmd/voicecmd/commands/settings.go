package commands

import (
	"github.com/spf13/cobra"

	"github.com/haivivi/voicecmd/pkg/cli"
	"github.com/haivivi/voicecmd/pkg/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change persisted runtime settings",
	Long: `Runtime settings are the knobs adjusted while listening: the silence
level, the hangover and the confidence threshold. They are saved per
context and take precedence over the context's defaults; command line
flags take precedence over both.`,
}

// settingsView is the output form of the settings of one context.
type settingsView struct {
	Context  string            `json:"context" yaml:"context"`
	Saved    bool              `json:"saved" yaml:"saved"`
	Settings settings.Settings `json:"settings" yaml:"settings"`
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the settings of the context",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContext()
		if err != nil {
			return err
		}
		store, db, err := openSettings()
		if err != nil {
			return err
		}
		defer db.Close()
		s, found, err := store.Load(cmd.Context(), c.Name)
		if err != nil {
			return err
		}
		if !found {
			s = contextSettings(c)
		}
		return outputResult(settingsView{Context: c.Name, Saved: found, Settings: s})
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Change one setting",
	Long: `Change one setting. Fields: silence_level, hangover,
confidence_threshold.

Example:
  voicecmd settings set silence_level 9`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContext()
		if err != nil {
			return err
		}
		store, db, err := openSettings()
		if err != nil {
			return err
		}
		defer db.Close()
		s, found, err := store.Load(cmd.Context(), c.Name)
		if err != nil {
			return err
		}
		if !found {
			s = contextSettings(c)
		}
		if err := s.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := store.Save(cmd.Context(), c.Name, s); err != nil {
			return err
		}
		cli.PrintSuccess("Saved %s=%s for context %q", args[0], args[1], c.Name)
		return nil
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the saved settings of the context",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContext()
		if err != nil {
			return err
		}
		store, db, err := openSettings()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.Reset(cmd.Context(), c.Name); err != nil {
			return err
		}
		cli.PrintSuccess("Settings of context %q reset", c.Name)
		return nil
	},
}

// contextSettings returns the settings implied by the context alone.
func contextSettings(c *cli.Context) settings.Settings {
	level, hangover := c.Silence()
	return settings.Settings{
		SilenceLevel:        level,
		Hangover:            hangover,
		ConfidenceThreshold: c.Threshold(),
	}
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsResetCmd)
}

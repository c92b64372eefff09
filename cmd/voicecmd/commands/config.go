package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haivivi/voicecmd/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage CLI configuration and contexts.

A context names one recognizer setup: the weights artifact, the input
device, block length, silence and confidence defaults and optional S3
settings. Contexts work like kubectl's.

Configuration is stored in ~/.voicecmd/voicecmd/config.yaml`,
}

var configContextCmd = &cobra.Command{
	Use:     "context",
	Aliases: []string{"ctx"},
	Short:   "Manage contexts",
}

var configContextListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all contexts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		if len(cfg.Contexts) == 0 {
			fmt.Println("No contexts configured")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tWEIGHTS\tDEVICE\tSILENCE\tTHRESHOLD")
		for _, name := range cfg.ListContexts() {
			ctx := cfg.Contexts[name]
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			weights := ctx.Weights
			if weights == "" {
				weights = "(none)"
			}
			level, _ := ctx.Silence()
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%g\t%g\n",
				current, name, weights, ctx.DeviceIndex(), level, ctx.Threshold())
		}
		return w.Flush()
	},
}

var configContextUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getConfig().UseContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Switched to context %q", args[0])
		return nil
	},
}

var configContextShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show a context",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := contextName
		if len(args) == 1 {
			name = args[0]
		}
		ctx, err := getConfig().ResolveContext(name)
		if err != nil {
			return err
		}
		shown := *ctx
		if shown.S3 != nil {
			s3 := *shown.S3
			s3.SecretKey = cli.MaskAPIKey(s3.SecretKey)
			shown.S3 = &s3
		}
		return outputResult(shown)
	},
}

var configContextSetCmd = &cobra.Command{
	Use:   "set <name> <field>=<value>...",
	Short: "Create or update a context",
	Long: `Create or update a context. Fields:
  ` + strings.Join(cli.ContextFields, "\n  ") + `

Example:
  voicecmd config context set studio weights=s3://models/voicecmd.msgpack device=2 silence_level=9
  voicecmd config context set studio s3.endpoint=http://localhost:9000 s3.path_style=true`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		name := args[0]
		ctx, ok := cfg.Contexts[name]
		if !ok {
			ctx = &cli.Context{}
		}
		for _, assign := range args[1:] {
			field, value, found := strings.Cut(assign, "=")
			if !found {
				return fmt.Errorf("expected <field>=<value>, got %q", assign)
			}
			if err := ctx.Set(field, value); err != nil {
				return err
			}
		}
		if err := cfg.AddContext(name, ctx); err != nil {
			return err
		}
		if cfg.CurrentContext == "" {
			if err := cfg.UseContext(name); err != nil {
				return err
			}
		}
		cli.PrintSuccess("Context %q saved", name)
		return nil
	},
}

var configContextDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getConfig().DeleteContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Context %q deleted", args[0])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(getConfig().Path())
	},
}

func init() {
	configContextCmd.AddCommand(configContextListCmd)
	configContextCmd.AddCommand(configContextUseCmd)
	configContextCmd.AddCommand(configContextShowCmd)
	configContextCmd.AddCommand(configContextSetCmd)
	configContextCmd.AddCommand(configContextDeleteCmd)

	configCmd.AddCommand(configContextCmd)
	configCmd.AddCommand(configPathCmd)
}

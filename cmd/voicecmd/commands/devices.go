package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haivivi/voicecmd/pkg/audio/portaudio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	Long: `List the audio devices that can capture. Use the INDEX column with
'voicecmd listen --device' or the context's device field.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
		defer portaudio.Terminate()

		devices, err := portaudio.Devices()
		if err != nil {
			return err
		}
		if outputFormat != "" {
			return outputResult(devices)
		}
		if len(devices) == 0 {
			fmt.Println("No input devices found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DEFAULT\tINDEX\tNAME\tHOST_API\tCHANNELS\tRATE")
		for _, d := range devices {
			def := ""
			if d.Default {
				def = "*"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%.0f\n",
				def, d.Index, d.Name, d.HostAPI, d.MaxInputChannels, d.DefaultSampleRate)
		}
		return w.Flush()
	},
}

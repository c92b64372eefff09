package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/voicecmd/pkg/cli"
	"github.com/haivivi/voicecmd/pkg/model"
	"github.com/haivivi/voicecmd/pkg/storage"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Create and inspect model weight artifacts",
	Long: `Manage classifier weight artifacts.

Artifacts are msgpack files holding named float32 tensors. They can live
on local disk or in S3 (s3://bucket/key, using the context's s3 settings).`,
}

var weightsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write deterministic random weights",
	Long: `Write randomly initialized weights for the default architecture.

The network is untrained, so nearly every utterance is rejected; the
artifact exists to smoke-test the pipeline end to end.

Example:
  voicecmd weights init --seed 7 --out ./voicecmd.msgpack`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, _ := cmd.Flags().GetUint64("seed")
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return errors.New("--out is required")
		}
		c, err := getContext()
		if err != nil {
			return err
		}

		loc, err := storage.Open(out, storageOptions(c))
		if err != nil {
			return err
		}
		w := model.RandomWeights(model.DefaultArch(), seed)
		f, err := loc.Create(cmd.Context())
		if err != nil {
			return err
		}
		n, err := w.WriteTo(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", loc, err)
		}
		cli.PrintSuccess("Wrote %d parameters (%d bytes) to %s", w.NumParams(), n, loc)
		return nil
	},
}

// weightsInfo summarizes an artifact.
type weightsInfo struct {
	Location   string       `json:"location" yaml:"location"`
	Parameters int          `json:"parameters" yaml:"parameters"`
	Compatible bool         `json:"compatible" yaml:"compatible"`
	Problem    string       `json:"problem,omitempty" yaml:"problem,omitempty"`
	Tensors    []tensorInfo `json:"tensors" yaml:"tensors"`
}

type tensorInfo struct {
	Name  string `json:"name" yaml:"name"`
	Shape []int  `json:"shape" yaml:"shape,flow"`
}

var weightsInspectCmd = &cobra.Command{
	Use:   "inspect [PATH|s3://bucket/key]",
	Short: "Show the tensors of a weights artifact",
	Long: `Show the tensors of a weights artifact and whether it fits the default
architecture. Without an argument the context's weights are inspected.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getContext()
		if err != nil {
			return err
		}
		uri := c.Weights
		if len(args) == 1 {
			uri = args[0]
		}
		if uri == "" {
			return errors.New("no weights given and none configured for the context")
		}
		loc, err := storage.Open(uri, storageOptions(c))
		if err != nil {
			return err
		}
		r, err := loc.Open(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()
		w, err := model.ReadWeights(r)
		if err != nil {
			return err
		}

		info := weightsInfo{Location: loc.String(), Parameters: w.NumParams(), Compatible: true}
		for _, name := range w.Names() {
			t, _ := w.Get(name)
			info.Tensors = append(info.Tensors, tensorInfo{Name: name, Shape: t.Shape})
		}
		if _, err := model.New(w); err != nil {
			info.Compatible = false
			info.Problem = err.Error()
		}
		return outputResult(info)
	},
}

func init() {
	weightsInitCmd.Flags().Uint64("seed", 1, "random seed")
	weightsInitCmd.Flags().String("out", "", "output artifact: path or s3://bucket/key")

	weightsCmd.AddCommand(weightsInitCmd)
	weightsCmd.AddCommand(weightsInspectCmd)
}

package commands

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/haivivi/voicecmd/pkg/cli"
	"github.com/haivivi/voicecmd/pkg/command"
	"github.com/haivivi/voicecmd/pkg/features"
	"github.com/haivivi/voicecmd/pkg/inference"
)

var classifyCmd = &cobra.Command{
	Use:   "classify FILE.wav...",
	Short: "Classify WAV files offline",
	Long: `Classify whole WAV files, one utterance per file.

Files must be 16 kHz PCM. Each file is truncated or zero padded to the
context's maximum utterance duration, exactly as live utterances are.
Files may be local paths or s3:// URIs.

Examples:
  voicecmd classify bold.wav italic.wav
  voicecmd classify -o json --probs s3://recordings/take1.wav`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().String("weights", "", "weights artifact (overrides the context)")
	classifyCmd.Flags().Float64("threshold", 0, "confidence threshold (default from the context)")
	classifyCmd.Flags().Bool("probs", false, "include the full probability distribution")
}

// classification is one classify output record.
type classification struct {
	cli.ResultView `yaml:",inline" json:",inline"`
	Probabilities  []classProb `json:"probabilities,omitempty" yaml:"probabilities,omitempty"`
}

type classProb struct {
	Label       string  `json:"label" yaml:"label"`
	Probability float64 `json:"probability" yaml:"probability"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	c, err := getContext()
	if err != nil {
		return err
	}
	ext, err := newExtractor(c)
	if err != nil {
		return err
	}
	weights, _ := cmd.Flags().GetString("weights")
	clf, err := loadClassifier(cmd.Context(), c, weights, ext)
	if err != nil {
		return err
	}
	threshold := c.Threshold()
	if cmd.Flags().Changed("threshold") {
		threshold, _ = cmd.Flags().GetFloat64("threshold")
	}
	withProbs, _ := cmd.Flags().GetBool("probs")

	results := make([]classification, 0, len(args))
	for _, file := range args {
		audio, err := readWAV(cmd.Context(), c, file)
		if err != nil {
			return err
		}
		mono, err := features.Downmix(audio.Samples, audio.Channels)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		probs, err := clf.Classify(mono)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		label, conf, err := inference.Gate(probs, threshold)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		rec := classification{
			ResultView: cli.NewResultView(command.Result{Label: label, Confidence: conf}, audio.Duration()),
		}
		rec.Source = file
		if withProbs {
			rec.Probabilities = rankProbs(probs)
		}
		results = append(results, rec)
	}
	return outputResult(results)
}

// rankProbs orders the distribution by descending probability.
func rankProbs(probs []float64) []classProb {
	out := make([]classProb, len(probs))
	for i, p := range probs {
		out[i] = classProb{Label: command.Label(i).String(), Probability: p}
	}
	slices.SortStableFunc(out, func(a, b classProb) int {
		switch {
		case a.Probability > b.Probability:
			return -1
		case a.Probability < b.Probability:
			return 1
		}
		return 0
	})
	return out
}

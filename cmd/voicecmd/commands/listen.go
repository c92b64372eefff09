package commands

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/voicecmd/pkg/audio/portaudio"
	"github.com/haivivi/voicecmd/pkg/audio/wavfile"
	"github.com/haivivi/voicecmd/pkg/capture"
	"github.com/haivivi/voicecmd/pkg/cli"
	"github.com/haivivi/voicecmd/pkg/command"
	"github.com/haivivi/voicecmd/pkg/pipeline"
	"github.com/haivivi/voicecmd/pkg/segment"
	"github.com/haivivi/voicecmd/pkg/settings"
	"github.com/haivivi/voicecmd/pkg/storage"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Recognize commands from the microphone or a WAV file",
	Long: `Run the live recognizer and print one line per utterance.

While listening, control lines are read from stdin:
  pause              stop feeding audio (the partial utterance is kept)
  resume             continue
  silence <level>    set the silence level
  threshold <p>      set the confidence threshold, in (0, 1)
  status             print the current knobs
  quit               stop and exit

Knob changes are saved per context and reused by the next run.

Examples:
  voicecmd listen
  voicecmd listen --device 2 --silence 9
  voicecmd listen --input take.wav --dump /tmp/utterances`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	listenFlags(listenCmd)
}

func listenFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("weights", "", "weights artifact (overrides the context)")
	f.Int("device", portaudio.DefaultDevice, "input device index, -1 for the default device")
	f.Int("block-ms", 0, "capture block length in milliseconds")
	f.Float32("silence", 0, "silence level")
	f.Int("hangover", 0, "quiet blocks that end an utterance")
	f.Float64("threshold", 0, "confidence threshold")
	f.String("input", "", "replay a 16 kHz WAV file instead of the microphone")
	f.Bool("realtime", true, "pace --input replay at real time")
	f.String("dump", "", "write each utterance as WAV into this directory or s3:// prefix")
	f.Bool("discard-on-pause", false, "drop the partial utterance on pause")
	f.Bool("no-persist", false, "do not save knob changes")
}

// listenOptions are the effective knobs after layering defaults, context,
// persisted settings and flags.
type listenOptions struct {
	settings settings.Settings
	device   int
	block    time.Duration
}

func resolveListenOptions(cmd *cobra.Command, c *cli.Context, saved settings.Settings, found bool) (listenOptions, error) {
	opts := listenOptions{
		settings: contextSettings(c),
		device:   c.DeviceIndex(),
		block:    c.BlockDuration(),
	}
	if found {
		opts.settings = saved
	}

	f := cmd.Flags()
	if f.Changed("silence") {
		v, _ := f.GetFloat32("silence")
		opts.settings.SilenceLevel = v
	}
	if f.Changed("hangover") {
		v, _ := f.GetInt("hangover")
		opts.settings.Hangover = v
	}
	if f.Changed("threshold") {
		v, _ := f.GetFloat64("threshold")
		opts.settings.ConfidenceThreshold = v
	}
	if f.Changed("device") {
		opts.device, _ = f.GetInt("device")
	}
	if f.Changed("block-ms") {
		ms, _ := f.GetInt("block-ms")
		if ms <= 0 {
			return opts, fmt.Errorf("--block-ms must be positive")
		}
		opts.block = time.Duration(ms) * time.Millisecond
	}
	return opts, opts.settings.Validate()
}

func runListen(cmd *cobra.Command, _ []string) error {
	c, err := getContext()
	if err != nil {
		return err
	}

	store, db, err := openSettings()
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	defer db.Close()
	saved, found, err := store.Load(cmd.Context(), c.Name)
	if err != nil {
		return err
	}
	opts, err := resolveListenOptions(cmd, c, saved, found)
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

	source, channels, err := listenSource(cmd, c, opts)
	if err != nil {
		return err
	}

	var onResult func(*segment.Utterance, command.Result)
	if dir, _ := cmd.Flags().GetString("dump"); dir != "" {
		d, err := newDumper(dir, c)
		if err != nil {
			return err
		}
		onResult = d.dump
	}

	discard, _ := cmd.Flags().GetBool("discard-on-pause")
	p, err := pipeline.New(pipeline.Config{
		Source:    source,
		Model:     clf,
		Extractor: ext,
		Segment: segment.Config{
			SilenceLevel: opts.settings.SilenceLevel,
			Hangover:     opts.settings.Hangover,
			MaxSamples:   ext.MaxSamples(),
			Channels:     channels,
		},
		ConfidenceThreshold: opts.settings.ConfidenceThreshold,
		InferenceTimeout:    c.InferenceTimeout(),
		DiscardOnPause:      discard,
		OnResult:            onResult,
	})
	if err != nil {
		return err
	}

	if err := p.Start(context.Background()); err != nil {
		return err
	}
	slog.Info("listening", "context", c.Name, "silence_level", opts.settings.SilenceLevel,
		"hangover", opts.settings.Hangover, "threshold", opts.settings.ConfidenceThreshold)

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	noPersist, _ := cmd.Flags().GetBool("no-persist")
	ctl := &controls{
		knobs:    p,
		hangover: opts.settings.Hangover,
		persist: func(s settings.Settings) error {
			if noPersist {
				return nil
			}
			return store.Save(context.Background(), c.Name, s)
		},
		out:  cli.Stdout,
		quit: stop,
	}
	go ctl.run(os.Stdin)

	printer := newResultPrinter()
	for {
		r, err := p.Commands().Next(sigCtx)
		if err != nil {
			break
		}
		if err := printer.print(r); err != nil {
			return err
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopErr := p.Stop(stopCtx)
	for {
		r, ok := p.Commands().Poll()
		if !ok {
			break
		}
		printer.print(r)
	}
	st := p.Stats()
	slog.Info("stopped", "processed", st.Processed, "recognized", st.Recognized,
		"rejected", st.Rejected, "failed", st.Failed)
	if errors.Is(stopErr, context.Canceled) {
		return nil
	}
	return stopErr
}

func listenSource(cmd *cobra.Command, c *cli.Context, opts listenOptions) (capture.Source, int, error) {
	input, _ := cmd.Flags().GetString("input")
	if input == "" {
		return portaudio.Source(portaudio.InputConfig{
			Device:        opts.device,
			BlockDuration: opts.block,
		}), 1, nil
	}
	audio, err := readWAV(cmd.Context(), c, input)
	if err != nil {
		return nil, 0, err
	}
	realtime, _ := cmd.Flags().GetBool("realtime")
	printVerbose("replaying %s: %v, %d channel(s)", input, audio.Duration(), audio.Channels)
	return wavfile.NewSource(audio, wavfile.SourceOptions{
		BlockFrames: portaudio.BlockFrames(opts.block),
		Paced:       realtime,
	}), audio.Channels, nil
}

// readWAV loads a WAV file from any artifact location.
func readWAV(ctx context.Context, c *cli.Context, uri string) (*wavfile.Audio, error) {
	loc, err := storage.Open(uri, storageOptions(c))
	if err != nil {
		return nil, err
	}
	data, err := loc.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", loc, err)
	}
	a, err := wavfile.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", loc, err)
	}
	return a, nil
}

// resultPrinter writes styled lines to a terminal, or structured records
// when an output format is selected.
type resultPrinter struct {
	styles cli.Styles
	format cli.OutputFormat
}

func newResultPrinter() *resultPrinter {
	p := &resultPrinter{styles: cli.NewStyles(cli.DefaultTheme)}
	if outputFormat != "" {
		p.format, _ = cli.ParseOutputFormat(outputFormat)
	}
	return p
}

func (p *resultPrinter) print(r command.Result) error {
	if p.format == "" {
		_, err := fmt.Fprintln(cli.Stdout, p.styles.RenderResult(r))
		return err
	}
	if p.format == cli.FormatYAML {
		if _, err := fmt.Fprintln(cli.Stdout, "---"); err != nil {
			return err
		}
	}
	return cli.Output(cli.NewResultView(r, 0), cli.OutputOptions{Format: p.format, Writer: cli.Stdout})
}

// dumper writes finalized utterances to a store. It runs on the inference
// goroutine, never on the capture path.
type dumper struct {
	store storage.FileStore
}

func newDumper(dir string, c *cli.Context) (*dumper, error) {
	store, err := storage.OpenDir(dir, storageOptions(c))
	if err != nil {
		return nil, err
	}
	return &dumper{store: store}, nil
}

func (d *dumper) dump(u *segment.Utterance, r command.Result) {
	name := fmt.Sprintf("%s_%s_%s.wav", u.Started.Format("20060102T150405.000"), r.Label, u.ID)
	if err := d.write(name, u); err != nil {
		slog.Warn("dump failed", "utterance", u.ID, "error", err)
	}
}

func (d *dumper) write(name string, u *segment.Utterance) error {
	w, err := d.store.Write(context.Background(), name)
	if err != nil {
		return err
	}
	if err := wavfile.EncodeUtterance(w, u); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// knobs is the part of the pipeline the control lines act on.
type knobs interface {
	Pause()
	Resume()
	Paused() bool
	SetSilenceLevel(float32) error
	SilenceLevel() float32
	SetConfidenceThreshold(float64) error
	ConfidenceThreshold() float64
}

// controls interprets stdin control lines.
type controls struct {
	knobs    knobs
	hangover int
	persist  func(settings.Settings) error
	out      io.Writer
	quit     func()
}

func (c *controls) run(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		done, err := c.apply(sc.Text())
		if err != nil {
			cli.PrintError("%v", err)
		}
		if done {
			return
		}
	}
}

// apply executes one control line and reports whether listening should
// end.
func (c *controls) apply(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	arg := func() (string, error) {
		if len(fields) != 2 {
			return "", fmt.Errorf("usage: %s <value>", fields[0])
		}
		return fields[1], nil
	}

	switch strings.ToLower(fields[0]) {
	case "pause", "p":
		c.knobs.Pause()
		fmt.Fprintln(c.out, "paused")
	case "resume", "r":
		c.knobs.Resume()
		fmt.Fprintln(c.out, "resumed")
	case "silence", "s":
		v, err := arg()
		if err != nil {
			return false, err
		}
		level, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return false, fmt.Errorf("silence: %w", err)
		}
		if err := c.knobs.SetSilenceLevel(float32(level)); err != nil {
			return false, err
		}
		return false, c.save()
	case "threshold", "t":
		v, err := arg()
		if err != nil {
			return false, err
		}
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return false, fmt.Errorf("threshold: %w", err)
		}
		if err := c.knobs.SetConfidenceThreshold(p); err != nil {
			return false, err
		}
		return false, c.save()
	case "status":
		fmt.Fprintf(c.out, "paused=%t silence=%g threshold=%g\n",
			c.knobs.Paused(), c.knobs.SilenceLevel(), c.knobs.ConfidenceThreshold())
	case "quit", "q", "exit":
		c.quit()
		return true, nil
	default:
		return false, fmt.Errorf("unknown control %q", fields[0])
	}
	return false, nil
}

func (c *controls) save() error {
	if c.persist == nil {
		return nil
	}
	return c.persist(settings.Settings{
		SilenceLevel:        c.knobs.SilenceLevel(),
		Hangover:            c.hangover,
		ConfidenceThreshold: c.knobs.ConfidenceThreshold(),
	})
}

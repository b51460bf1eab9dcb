package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	gomidi "gitlab.com/gomidi/midi/v2"

	"go-gridbeat/audio"
	"go-gridbeat/config"
	"go-gridbeat/debug"
	"go-gridbeat/midi"
	"go-gridbeat/midiclock"
	"go-gridbeat/sequencer"
	"go-gridbeat/tui"
)

var (
	flagPort    string
	flagClockIn string
	flagTempo   float64
	flagDebug   bool
)

var rootCmd = &cobra.Command{
	Use:   "go-gridbeat",
	Short: "Step sequencer with MIDI clock sync",
	Long: `go-gridbeat is a 16-track step sequencer that plays drum patterns
over MIDI with swing, per-step micro-timing, live recording, and
MIDI clock sync in both directions.

Examples:
  go-gridbeat
  go-gridbeat --port "Volca Beats" --tempo 128
  go-gridbeat ports`,
	RunE: runSequencer,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available MIDI ports",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Output ports:")
		for _, p := range midi.ListPorts() {
			fmt.Printf("  %s\n", p)
		}
		fmt.Println("Input ports:")
		for _, p := range midi.ListInPorts() {
			fmt.Printf("  %s\n", p)
		}
		gomidi.CloseDriver()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagPort, "port", "p", "", "MIDI output port (substring match)")
	rootCmd.PersistentFlags().StringVar(&flagClockIn, "clock-in", "", "MIDI input port for external clock and recording")
	rootCmd.PersistentFlags().Float64VarP(&flagTempo, "tempo", "t", 0, "initial tempo in BPM")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "write a debug log to ~/.config/go-gridbeat/debug.log")
	rootCmd.AddCommand(portsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSequencer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flagPort != "" {
		cfg.MIDI.OutputPort = flagPort
	}
	if flagClockIn != "" {
		cfg.MIDI.ClockInputPort = flagClockIn
		cfg.ClockSource = config.ClockExternalDevice
	}
	if flagTempo != 0 {
		cfg.Tempo = flagTempo
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if flagDebug {
		if err := debug.Enable(); err != nil {
			return err
		}
	}
	debug.Log("main", "starting, output=%q clockIn=%q", cfg.MIDI.OutputPort, cfg.MIDI.ClockInputPort)

	out := midi.NewOutput(cfg.MIDI.OutputPort)
	defer out.Close()
	defer gomidi.CloseDriver()

	var trigger audio.Trigger = audio.Null{}
	if cfg.MIDI.OutputPort != "" {
		trigger = audio.NewMIDIOut(out.Sender(cfg.MIDI.OutputPort), cfg.MIDI.Channel-1)
	}

	broadcast := sequencer.NewBroadcaster()

	// Engine and coordinator reference each other; the engine is assigned
	// before any callback can fire.
	var engine *sequencer.Engine
	coord := sequencer.NewCoordinator(sequencer.DefaultRecoveryConfig(),
		func(degraded bool, msg string) { engine.SetStatus(degraded, msg) },
		func() { engine.SetClockSource(sequencer.ClockInternal) },
	)
	engine = sequencer.NewEngine(trigger, coord, broadcast, sequencer.EngineConfig{
		AudioLatency: time.Duration(cfg.AudioLatencyMs) * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	pat, store, err := bootstrapPattern(cfg)
	if err != nil {
		return err
	}
	if err := engine.AddPattern(pat); err != nil {
		return err
	}
	if err := engine.SetPattern(pat); err != nil {
		return err
	}
	engine.SetQuantization(quantFromConfig(cfg.Quantization))
	engine.SetRecordingMode(recModeFromConfig(cfg.RecordingMode))
	engine.SetClockSource(clockSourceFromConfig(cfg.ClockSource))

	transform, err := sequencer.NewVelocityTransformer(sequencer.CurveLinear, sequencer.DefaultCurveParams())
	if err != nil {
		return err
	}
	recorder := sequencer.NewRecorder(engine, transform)

	var gen *midiclock.Generator
	if cfg.MIDI.SendClock && cfg.MIDI.OutputPort != "" {
		gen = midiclock.NewGenerator(func(data []byte) error {
			return out.SendRaw(cfg.MIDI.OutputPort, data)
		})
	}

	var follower *midiclock.Follower
	if cfg.ClockSource != config.ClockInternal {
		follower = midiclock.NewFollower(engine, midiclock.FollowerConfig{
			Division: midiclock.DefaultPPQN,
		}, func() {
			coord.Report(sequencer.Fault{
				Kind:   sequencer.FaultClockSyncLost,
				At:     time.Now(),
				Detail: "external clock silent",
			})
		})
		follower.SetSource(cfg.MIDI.ClockInputPort)
		defer follower.Close()
	}

	dm := midi.NewDeviceManager(cfg.MIDI.ClockInputPort, func(msg gomidi.Message, at time.Time) {
		if follower != nil {
			follower.HandleMessage(msg, at)
		}
		var ch, key, vel uint8
		if msg.GetNoteStart(&ch, &key, &vel) {
			if track, ok := audio.TrackForNote(key); ok {
				recorder.CaptureHit(track, at, vel)
			}
		}
	})
	go dm.Run(ctx)

	m := tui.NewModel(engine, recorder, gen, follower)
	prog := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := prog.Run(); err != nil {
		return err
	}

	// Persist the pattern as it stands on exit
	if final, ok := engine.Pattern(); ok {
		if err := store.Save(final); err != nil {
			debug.Log("main", "save on exit failed: %v", err)
		}
	}
	return nil
}

// bootstrapPattern loads the most recent saved pattern or creates a fresh
// one seeded from the config defaults.
func bootstrapPattern(cfg *config.Config) (sequencer.Pattern, *sequencer.FileStore, error) {
	dir, err := sequencer.DefaultPatternsDir()
	if err != nil {
		return sequencer.Pattern{}, nil, err
	}
	store, err := sequencer.NewFileStore(dir)
	if err != nil {
		return sequencer.Pattern{}, nil, err
	}

	infos, err := store.List()
	if err == nil && len(infos) > 0 {
		if pat, err := store.Load(infos[0].ID); err == nil {
			debug.Log("main", "loaded pattern %q", pat.Name)
			return pat, store, nil
		}
	}

	pat, err := sequencer.NewPattern("Pattern 1")
	if err != nil {
		return sequencer.Pattern{}, nil, err
	}
	if pat, err = sequencer.ResizeLength(pat, cfg.PatternLength); err != nil {
		return sequencer.Pattern{}, nil, err
	}
	if pat, err = sequencer.SetTempo(pat, cfg.Tempo); err != nil {
		return sequencer.Pattern{}, nil, err
	}
	if pat, err = sequencer.SetSwing(pat, cfg.Swing); err != nil {
		return sequencer.Pattern{}, nil, err
	}
	return pat, store, nil
}

func quantFromConfig(s string) sequencer.Quantization {
	switch s {
	case "1/4":
		return sequencer.QuantizeQuarter
	case "1/8":
		return sequencer.QuantizeEighth
	case "1/16":
		return sequencer.QuantizeSixteenth
	case "1/32":
		return sequencer.QuantizeThirtySecond
	default:
		return sequencer.QuantizeOff
	}
}

func clockSourceFromConfig(s config.ClockSourceName) sequencer.ClockSource {
	switch s {
	case config.ClockExternalAuto:
		return sequencer.ClockExternalAuto
	case config.ClockExternalDevice:
		return sequencer.ClockExternalDevice
	default:
		return sequencer.ClockInternal
	}
}

func recModeFromConfig(s config.RecordingModeName) sequencer.RecordingMode {
	switch s {
	case config.RecordReplace:
		return sequencer.ModeReplace
	case config.RecordPunchIn:
		return sequencer.ModePunchIn
	default:
		return sequencer.ModeOverdub
	}
}

// Command liteplayer-demo drives one pkg/player session from the
// command line: set a source, prepare it, start playback, and report
// transport status, the way the teacher's cmd/player.go drives
// pkg/audioplayer.Player directly from a single cobra command.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"

	adaptfile "github.com/liteplayer-go/liteplayer/internal/adapters/file"
	adapthttp "github.com/liteplayer-go/liteplayer/internal/adapters/http"
	adaptpa "github.com/liteplayer-go/liteplayer/internal/adapters/portaudio"
	"github.com/liteplayer-go/liteplayer/pkg/adapter"
	"github.com/liteplayer-go/liteplayer/pkg/player"
)

const version = "1.0.0"

var (
	deviceIdx   int
	paFrames    int
	rbCapacity  uint64
	seekMs      int
	showVersion bool
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "liteplayer-demo <url>",
	Short: "Play a single file or HTTP stream through the liteplayer engine",
	Long: `Drives one pkg/player session end to end: SetDataSource, Prepare,
Start, then reports state transitions and position until playback
reaches COMPLETED, STOPPED or ERROR.

Examples:
  liteplayer-demo song.mp3
  liteplayer-demo https://example.com/song.mp3 --seek 5000
  liteplayer-demo song.m4a --device 0 --verbose`,
	Args: cobra.ExactArgs(1),
	Run:  run,
}

func init() {
	rootCmd.Flags().IntVarP(&deviceIdx, "device", "d", 1, "Audio output device index")
	rootCmd.Flags().IntVarP(&paFrames, "frames", "f", 512, "PortAudio frames per buffer")
	rootCmd.Flags().Uint64VarP(&rbCapacity, "capacity", "c", 256*1024, "Bridge ringbuffer capacity in bytes")
	rootCmd.Flags().IntVar(&seekMs, "seek", 0, "Seek to this position (ms) once PREPARED, before starting")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) {
	if showVersion {
		fmt.Printf("liteplayer-demo v%s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	url := args[0]

	slog.Info("initializing PortAudio")
	if err := portaudio.Initialize(); err != nil {
		slog.Error("failed to initialize PortAudio", "error", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()

	paSink := adaptpa.New(deviceIdx, paFrames, rbCapacity, logger)

	p := player.New(player.Config{
		FileSource: adaptfile.NewFactory(),
		HTTPSource: adapthttp.NewFactory(nil, logger),
		Sink:       func() adapter.Sink { return paSink },
		Logger:     logger,
	})

	events := make(chan player.Event, 16)
	p.SetListener(func(e player.Event) {
		select {
		case events <- e:
		default:
			slog.Warn("event channel full, dropping event", "state", e.State)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("setting data source", "url", url)
	if err := p.SetDataSource(ctx, url); err != nil {
		slog.Error("set data source failed", "error", err)
		os.Exit(1)
	}
	if err := p.Prepare(ctx); err != nil {
		slog.Error("prepare failed", "error", err)
		os.Exit(1)
	}
	slog.Info("prepared", "duration_ms", p.GetDuration())

	if seekMs > 0 {
		if err := p.Seek(ctx, seekMs); err != nil {
			slog.Warn("seek failed", "error", err)
		}
	}

	if err := p.Start(ctx); err != nil {
		slog.Error("start failed", "error", err)
		os.Exit(1)
	}

	statusTicker := time.NewTicker(2 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case e := <-events:
			slog.Info("player event", "state", e.State, "error", e.ErrorCode)
			switch e.State {
			case player.StateCompleted, player.StateStopped, player.StateError:
				slog.Info("exiting")
				return
			}
		case <-statusTicker.C:
			pos := p.GetPosition()
			slog.Info("position", "position_ms", pos.PositionMs, "duration_ms", pos.DurationMs)
		case sig := <-sigChan:
			slog.Info("signal received, stopping", "signal", sig)
			if err := p.Stop(); err != nil {
				slog.Error("stop failed", "error", err)
			}
			return
		}
	}
}

// Command liteplayer-playlist drives pkg/manager over a list of
// files/URLs, advancing through the playlist automatically, the way
// the teacher's cmd/fileplayer.go walks a file list through
// internal/fileplayer.FilePlayer one entry at a time.
package main

import (
	"context"
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
	"github.com/liteplayer-go/liteplayer/pkg/manager"
	"github.com/liteplayer-go/liteplayer/pkg/player"
)

var (
	deviceIdx  int
	paFrames   int
	rbCapacity uint64
	singleLoop bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "liteplayer-playlist <url> [url...]",
	Short: "Play a playlist of files/URLs sequentially through the liteplayer engine",
	Long: `Wraps pkg/manager around pkg/player, advancing through the given
URLs automatically as each one reaches COMPLETED.

Examples:
  liteplayer-playlist song1.mp3 song2.m4a song3.wav
  liteplayer-playlist --loop song.mp3`,
	Args: cobra.MinimumNArgs(1),
	Run:  run,
}

func init() {
	rootCmd.Flags().IntVarP(&deviceIdx, "device", "d", 1, "Audio output device index")
	rootCmd.Flags().IntVarP(&paFrames, "frames", "f", 512, "PortAudio frames per buffer")
	rootCmd.Flags().Uint64VarP(&rbCapacity, "capacity", "c", 256*1024, "Bridge ringbuffer capacity in bytes")
	rootCmd.Flags().BoolVarP(&singleLoop, "loop", "l", false, "Repeat the current track instead of advancing")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, urls []string) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

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

	m := manager.New(p, logger)
	m.SetPlaylist(urls)
	m.SetSingleLooping(singleLoop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("starting playlist", "tracks", len(urls))
	if err := m.Start(ctx); err != nil {
		slog.Error("start failed", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	statusTicker := time.NewTicker(2 * time.Second)
	defer statusTicker.Stop()

	lastIndex := -1
	for {
		select {
		case <-statusTicker.C:
			if idx := m.CurrentIndex(); idx != lastIndex {
				lastIndex = idx
				slog.Info("now playing", "index", idx, "url", urls[idx])
			}
			pos := p.GetPosition()
			slog.Info("position", "position_ms", pos.PositionMs, "duration_ms", pos.DurationMs)
		case sig := <-sigChan:
			slog.Info("signal received, stopping playlist", "signal", sig)
			m.Shutdown()
			return
		}
	}
}

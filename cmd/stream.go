package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/openconsole/capstream/config"
	"github.com/openconsole/capstream/internal/capture"
	"github.com/openconsole/capstream/internal/device"
	"github.com/openconsole/capstream/internal/discovery"
	"github.com/openconsole/capstream/internal/sink"
	"github.com/openconsole/capstream/internal/stream"
	"github.com/openconsole/capstream/internal/util"
)

type StreamOptions struct {
	Transport  string
	Filter     string
	RecordWebM string
	LogChunks  string
	ForwardWS  string
	NoVideo    bool
	NoAudio    bool
}

func NewStreamCommand() *cobra.Command {
	opts := &StreamOptions{}

	cmd := &cobra.Command{
		Use:   "stream [flags]",
		Short: "Connect to a capture device and stream its video/audio to local targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ExecuteStream(cmd, opts)
		},
		Example: `  # Record the first compatible USB device to a WebM file:
  capstream stream --record-webm out.webm

  # Stream a specific network device (serial suffix match) to a WebSocket peer:
  capstream stream --transport net --filter 123 --forward-ws ws://localhost:9000/ingest

  # Dump raw timestamped chunks for offline inspection:
  capstream stream --log-chunks ./dump`,
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Transport, "transport", "usb", "Transport to search. Options are \"usb\" (default) or \"net\".")
	flags.StringVar(&opts.Filter, "filter", "", "Case-insensitive serial suffix to match. Empty connects to the first compatible device.")
	flags.StringVar(&opts.RecordWebM, "record-webm", "", "Record to a WebM file at the given path")
	flags.StringVar(&opts.LogChunks, "log-chunks", "", "Write raw chunk logs under the given directory")
	flags.StringVar(&opts.ForwardWS, "forward-ws", "", "Forward chunks to the given WebSocket URL")
	flags.BoolVar(&opts.NoVideo, "no-video", false, "Disable the video stream")
	flags.BoolVar(&opts.NoAudio, "no-audio", false, "Disable the audio stream")

	return cmd
}

func ExecuteStream(cmd *cobra.Command, opts *StreamOptions) error {
	if opts.NoVideo && opts.NoAudio {
		return fmt.Errorf("both streams disabled, nothing to do")
	}
	if opts.RecordWebM == "" && opts.LogChunks == "" && opts.ForwardWS == "" {
		return fmt.Errorf("no target selected: use --record-webm, --log-chunks or --forward-ws")
	}
	if opts.RecordWebM != "" && opts.NoVideo {
		return fmt.Errorf("--record-webm needs the video stream")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := buildTransport(opts.Transport)
	if err != nil {
		return err
	}

	dev, err := searchDevice(ctx, transport, opts.Filter)
	if err != nil {
		return err
	}
	if dev == nil {
		// Cancelled before a match; a clean outcome.
		return nil
	}

	session := capture.NewSession(dev)
	if err := session.Start(ctx, !opts.NoVideo, !opts.NoAudio); err != nil {
		dev.Dispose()
		return fmt.Errorf("failed to start capture: %v", err)
	}
	defer session.Close()

	videoSinks, audioSinks, closers, err := buildSinks(ctx, opts, session)
	if err != nil {
		closeAll(closers)
		return err
	}
	defer closeAll(closers)

	manager := stream.NewManager(sink.Combine(videoSinks...), sink.Combine(audioSinks...))
	if err := manager.SetVideoSource(session.VideoSource()); err != nil {
		return err
	}
	if err := manager.SetAudioSource(session.AudioSource()); err != nil {
		return err
	}
	if err := manager.Begin(); err != nil {
		util.GetLogger().Error("Failed to start stream legs", "error", err)
	}
	defer manager.Stop()

	fmt.Printf("Streaming from %s. Press Ctrl-C to stop.\n", dev.Serial())
	<-ctx.Done()
	fmt.Println("Stopping...")

	manager.Stop()
	reportFault("video", manager.VideoFault())
	reportFault("audio", manager.AudioFault())
	return nil
}

// searchDevice runs the auto-connect loop, showing a spinner while polling.
// Returns (nil, nil) when the user cancelled before a match.
func searchDevice(ctx context.Context, transport device.Transport, filter string) (*device.Device, error) {
	disc := discovery.New(transport, config.GetPollInterval())
	defer disc.DisposeSnapshot()

	results, err := disc.StartAutoConnect(filter)
	if err != nil {
		return nil, err
	}

	// The spinner garbles interleaved debug output, so skip it when verbose.
	var sp *spinner.Spinner
	if !util.IsVerbose() {
		sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		sp.Suffix = " Searching for capture device..."
		sp.Start()
	}

	var result discovery.Result
	select {
	case result = <-results:
	case <-ctx.Done():
		disc.CancelAutoConnect()
		result = <-results
	}
	if sp != nil {
		sp.Stop()
	}

	switch {
	case result.Err == nil:
		return result.Device, nil
	case errors.Is(result.Err, discovery.ErrCancelled):
		fmt.Println("Search cancelled")
		return nil, nil
	case errors.Is(result.Err, device.ErrIncompatibleDevice):
		return nil, fmt.Errorf("found a device but its capture service is incompatible (%v); update the companion service on the console", result.Err)
	default:
		return nil, fmt.Errorf("failed to connect: %v", result.Err)
	}
}

func buildSinks(ctx context.Context, opts *StreamOptions, session *capture.Session) (videoSinks, audioSinks []stream.Sink, closers []io.Closer, err error) {
	if opts.RecordWebM != "" {
		meta := session.VideoMeta()
		file, ferr := os.Create(opts.RecordWebM)
		if ferr != nil {
			return nil, nil, closers, fmt.Errorf("failed to create recording file: %v", ferr)
		}
		rec, rerr := sink.NewWebMRecorder(file, meta.Width, meta.Height)
		if rerr != nil {
			file.Close()
			return nil, nil, closers, rerr
		}
		closers = append(closers, rec)
		videoSinks = append(videoSinks, rec.VideoSink())
		if !opts.NoAudio {
			audioSinks = append(audioSinks, rec.AudioSink())
		}
	}

	if opts.LogChunks != "" {
		if merr := os.MkdirAll(opts.LogChunks, 0o755); merr != nil {
			return nil, nil, closers, fmt.Errorf("failed to create chunk log directory: %v", merr)
		}
		if !opts.NoVideo {
			log, lerr := sink.NewChunkLog(filepath.Join(opts.LogChunks, "video.chunks"))
			if lerr != nil {
				return nil, nil, closers, lerr
			}
			closers = append(closers, log)
			videoSinks = append(videoSinks, log)
		}
		if !opts.NoAudio {
			log, lerr := sink.NewChunkLog(filepath.Join(opts.LogChunks, "audio.chunks"))
			if lerr != nil {
				return nil, nil, closers, lerr
			}
			closers = append(closers, log)
			audioSinks = append(audioSinks, log)
		}
	}

	if opts.ForwardWS != "" {
		fwd, ferr := sink.DialWSForward(ctx, opts.ForwardWS)
		if ferr != nil {
			return nil, nil, closers, ferr
		}
		closers = append(closers, fwd)
		if !opts.NoVideo {
			videoSinks = append(videoSinks, fwd.SinkFor(stream.KindVideo))
		}
		if !opts.NoAudio {
			audioSinks = append(audioSinks, fwd.SinkFor(stream.KindAudio))
		}
	}

	return videoSinks, audioSinks, closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			util.GetLogger().Warn("Failed to close target", "error", err)
		}
	}
}

func reportFault(leg string, fault error) {
	if fault != nil {
		fmt.Fprintf(os.Stderr, "%s stream stopped on error: %v\n", leg, fault)
	}
}

package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"vin-service/internal/capture"
	"vin-service/internal/config"
	"vin-service/internal/domain/vin"
	"vin-service/internal/feedback"
	"vin-service/internal/geo"
	"vin-service/internal/httpclient"
	"vin-service/internal/logger"
	"vin-service/internal/persistence"
	"vin-service/internal/recognizer"
	"vin-service/internal/scanner"
)

type runFlags struct {
	recognizer string
	source     string
	dir        string
	material   string
	interval   time.Duration
}

func runCmd() *cobra.Command {
	var flags runFlags

	c := &cobra.Command{
		Use:   "run",
		Short: "Start the scan loop and submit recognized VINs to the VIN service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadScanner()
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg, flags)
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := logger.NewWithWriter(cfg.Environment, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runScanner(ctx, cfg, cmd.InOrStdin(), log)
		},
	}

	c.Flags().StringVarP(&flags.recognizer, "recognizer", "r", "", "Recognizer: text, ocr, model or barcode (overrides SCANNER_RECOGNIZER)")
	c.Flags().StringVarP(&flags.source, "source", "s", "", "Capture source: stdin, dir or camera (overrides SCANNER_SOURCE)")
	c.Flags().StringVar(&flags.dir, "dir", "", "Directory watched by the dir source")
	c.Flags().StringVar(&flags.material, "material", "", "Material or kind recorded with every scan")
	c.Flags().DurationVar(&flags.interval, "interval", 0, "Capture interval (overrides SCANNER_INTERVAL)")
	return c
}

func applyRunFlags(cmd *cobra.Command, cfg *config.ScannerConfig, flags runFlags) {
	if cmd.Flags().Changed("recognizer") {
		cfg.Recognizer.Kind = flags.recognizer
	}
	if cmd.Flags().Changed("source") {
		cfg.Source.Kind = flags.source
	}
	if cmd.Flags().Changed("dir") {
		cfg.Source.Dir = flags.dir
		if !cmd.Flags().Changed("source") {
			cfg.Source.Kind = "dir"
		}
	}
	if cmd.Flags().Changed("material") {
		cfg.Loop.Material = flags.material
	}
	if cmd.Flags().Changed("interval") && flags.interval > 0 {
		cfg.Loop.Interval = flags.interval
	}
}

func runScanner(ctx context.Context, cfg *config.ScannerConfig, stdin io.Reader, log zerolog.Logger) error {
	baseHTTP := httpclient.DefaultConfig()

	source, err := buildSource(cfg, stdin, httpclient.New(baseHTTP.WithTimeout(cfg.Recognizer.Timeout)))
	if err != nil {
		return err
	}

	rec, err := recognizer.New(cfg.Recognizer, httpclient.New(baseHTTP.WithTimeout(cfg.Recognizer.Timeout)))
	if err != nil {
		return err
	}

	sinks := []feedback.Sink{feedback.NewLogSink(log)}
	if cfg.MQTT.Broker != "" {
		mqttSink, err := feedback.NewMQTTSink(cfg.MQTT.Broker, cfg.MQTT.Topic, cfg.MQTT.ClientID, 5*time.Second, log)
		if err != nil {
			return err
		}
		defer mqttSink.Close()
		sinks = append(sinks, mqttSink)
	}

	api := persistence.NewClient(httpclient.New(baseHTTP.WithTimeout(cfg.Loop.SubmitTimeout)), cfg.API.URL, cfg.API.Token)

	session := scanner.New(scanner.Config{
		Interval:      cfg.Loop.Interval,
		Cooldown:      cfg.Loop.Cooldown,
		SubmitTimeout: cfg.Loop.SubmitTimeout,
		Material:      cfg.Loop.Material,
	}, scanner.Deps{
		Source:     source,
		Recognizer: rec,
		Submitter:  api,
		Snapshots:  api,
		Locator:    buildLocator(cfg, httpclient.New(baseHTTP.WithTimeout(cfg.Geo.Timeout))),
		Sink:       feedback.Multi(sinks...),
		Log:        log,
	})

	if err := session.Start(ctx); err != nil {
		return err
	}
	log.Info().
		Str("source", cfg.Source.Kind).
		Str("recognizer", cfg.Recognizer.Kind).
		Dur("interval", cfg.Loop.Interval).
		Str("api", cfg.API.URL).
		Msg("scanner started")

	waitForExit(ctx, session, source, cfg.Loop.Interval)
	session.Stop()

	stats := session.Stats()
	log.Info().
		Uint64("ticks", stats.Ticks).
		Uint64("dropped_ticks", stats.DroppedTicks).
		Uint64("attempts", stats.Attempts).
		Uint64("recognition_failures", stats.RecognitionFailures).
		Uint64("unverified", stats.Unverified).
		Uint64("submissions", stats.Submissions).
		Msg("scanner stopped")
	return nil
}

// waitForExit blocks until a signal arrives or, for a finite stdin source,
// until every line has been processed and submissions have settled.
func waitForExit(ctx context.Context, session *scanner.Session, source capture.Source, interval time.Duration) {
	lines, finite := source.(*capture.LineSource)
	if !finite {
		select {
		case <-ctx.Done():
		case <-session.Done():
		}
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-session.Done():
			return
		case <-ticker.C:
			if lines.Exhausted() && session.State() != scanner.StateBusy && session.InFlight() == 0 {
				return
			}
		}
	}
}

func buildSource(cfg *config.ScannerConfig, stdin io.Reader, client *http.Client) (capture.Source, error) {
	switch cfg.Source.Kind {
	case "stdin":
		return capture.NewLineSource(stdin), nil
	case "dir":
		return capture.NewDirSource(cfg.Source.Dir), nil
	case "camera":
		return capture.NewSnapshotSource(client, cfg.Camera.HTTPHost, cfg.Camera.SnapshotPath, cfg.Camera.Username, cfg.Camera.Password), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source.Kind)
	}
}

func buildLocator(cfg *config.ScannerConfig, client *http.Client) geo.Locator {
	switch {
	case cfg.Geo.Lat != nil && cfg.Geo.Lng != nil:
		return geo.Static{Position: vin.Geolocation{Lat: *cfg.Geo.Lat, Lng: *cfg.Geo.Lng}}
	case cfg.Geo.URL != "":
		return geo.WithTimeout(geo.NewHTTPLocator(client, cfg.Geo.URL), cfg.Geo.Timeout)
	default:
		return geo.None{}
	}
}


// Command lamp-panel serves a web page that switches a green and a red
// indicator lamp and remembers their state across restarts.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/lamp-panel/internal/config"
	"github.com/sweeney/lamp-panel/internal/gpio"
	"github.com/sweeney/lamp-panel/internal/lamp"
	"github.com/sweeney/lamp-panel/internal/logger"
	"github.com/sweeney/lamp-panel/internal/metrics"
	"github.com/sweeney/lamp-panel/internal/mqtt"
	"github.com/sweeney/lamp-panel/internal/nvs"
	"github.com/sweeney/lamp-panel/internal/status"
	"github.com/sweeney/lamp-panel/internal/web"
)

const shutdownTimeout = 5 * time.Second

// options are the command-line flags.
type options struct {
	configPath string
	logLevel   string
	printState bool
}

var (
	flags options

	// rootCmd runs the lamp daemon.
	rootCmd = &cobra.Command{
		Use:   "lamp-panel",
		Short: "Serve a web page that switches the green and red indicator lamps.",
		Long: `Restores both lamps from their stored records, drives the GPIO lines to
match, then serves the lamp page. Each toggle drives the line and commits the
records before the page is returned. Prometheus metrics and a JSON status
document are served on the admin address.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := notifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return run(ctx, flags, cmd.OutOrStdout())
		},
	}
)

func main() {
	err := rootCmd.Execute()
	logger.Sync()

	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&flags.configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&flags.printState, "print-state", false, "print the stored lamp state and exit without touching GPIO")
}

// signalError is the cancellation cause recorded when a signal arrives.
type signalError struct {
	sig os.Signal
}

func (e signalError) Error() string {
	return "received " + e.sig.String()
}

// notifyContext is signal.NotifyContext that keeps the signal as the
// context's cause, so the shutdown event can name it.
func notifyContext(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	go func() {
		select {
		case s := <-ch:
			cancel(signalError{sig: s})
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(ch)
		cancel(context.Canceled)
	}
}

// shutdownReason names why ctx ended, for the SHUTDOWN event.
func shutdownReason(ctx context.Context) string {
	var se signalError
	if errors.As(context.Cause(ctx), &se) {
		switch se.sig {
		case syscall.SIGINT:
			return "SIGINT"
		case syscall.SIGTERM:
			return "SIGTERM"
		default:
			return se.sig.String()
		}
	}

	if ctx.Err() != nil {
		return "CANCELLED"
	}

	return "ERROR"
}

func run(ctx context.Context, opts options, out io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	levelName := cfg.LogLevel
	if opts.logLevel != "" {
		levelName = opts.logLevel
	}

	level, ok := logger.ParseLogLevel(levelName)
	if !ok {
		return fmt.Errorf("unknown log level %q", levelName)
	}

	logger.SetLevel(level)

	ctx = logger.WithName(ctx, "lamp-panel")

	store, err := nvs.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if opts.printState {
		return printState(ctx, out, store)
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		HTTPAddr:         cfg.HTTPAddr,
		AdminAddr:        cfg.AdminAddr,
		Broker:           cfg.MQTT.Broker,
		StoreBackend:     cfg.Store.Backend,
		GreenPin:         cfg.GPIO.GreenPin,
		RedPin:           cfg.GPIO.RedPin,
		DriveTimeoutMs:   cfg.Timeouts.Drive.Milliseconds(),
		PersistTimeoutMs: cfg.Timeouts.Persist.Milliseconds(),
	})

	var publisher mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, tracker.SetMQTTConnected)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer pub.Close()

		publisher = pub
	}

	lc := net.ListenConfig{}

	lampLn, err := lc.Listen(ctx, "tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}

	var adminLn net.Listener
	if cfg.AdminAddr != "" {
		adminLn, err = lc.Listen(ctx, "tcp", cfg.AdminAddr)
		if err != nil {
			lampLn.Close()
			return fmt.Errorf("listen on %s: %w", cfg.AdminAddr, err)
		}
	}

	d := &daemon{
		cfg:   cfg,
		store: store,
		openOutputs: func() (gpio.Writer, error) {
			w, err := gpio.NewRealWriter(cfg.GPIO.Chip, cfg.GPIO.GreenPin, cfg.GPIO.RedPin)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		publisher: publisher,
		tracker:   tracker,
		registry:  prom.NewRegistry(),
	}

	return d.serve(ctx, lampLn, adminLn)
}

// printState loads the stored records and prints them without opening GPIO.
func printState(ctx context.Context, out io.Writer, store nvs.Store) error {
	m := lamp.NewManager(nil, store)
	if err := m.LoadInitialState(ctx); err != nil {
		return fmt.Errorf("load lamp state: %w", err)
	}

	snap := m.Snapshot()
	_, err := fmt.Fprintf(out, "GREEN: %s, RED: %s\n", snap.State(lamp.Green), snap.State(lamp.Red))

	return err
}

// daemon holds everything the serve phase needs. Tests build one with fakes.
type daemon struct {
	cfg         *config.Config
	store       nvs.Store
	openOutputs func() (gpio.Writer, error)
	publisher   mqtt.Publisher // nil when MQTT is disabled
	tracker     *status.Tracker
	registry    *prom.Registry
}

// serve runs the bring-up sequence after the store is open: open the
// outputs, load state, drive the outputs, serve, then shut down when ctx ends.
// adminLn may be nil.
func (d *daemon) serve(ctx context.Context, lampLn, adminLn net.Listener) error {
	recorder := metrics.NewRecorder(d.registry)

	managerOpts := []lamp.Option{
		lamp.WithPins(d.cfg.GPIO.GreenPin, d.cfg.GPIO.RedPin),
		lamp.WithTimeouts(d.cfg.Timeouts.Drive, d.cfg.Timeouts.Persist),
		lamp.WithObserver(d.tracker),
		lamp.WithObserver(recorder),
	}

	closeListeners := func() {
		lampLn.Close()
		if adminLn != nil {
			adminLn.Close()
		}
	}

	out, err := d.openOutputs()
	if err != nil {
		closeListeners()
		return fmt.Errorf("init gpio: %w", err)
	}
	defer out.Close()

	var notifier *mqtt.Notifier
	if d.publisher != nil {
		notifier = mqtt.NewNotifier(d.publisher, 0)
		managerOpts = append(managerOpts, lamp.WithObserver(notifier))
	}

	m := lamp.NewManager(out, d.store, managerOpts...)

	if err := m.LoadInitialState(ctx); err != nil {
		closeListeners()
		if notifier != nil {
			_ = notifier.Close(ctx)
		}
		return fmt.Errorf("load lamp state: %w", err)
	}

	loaded := m.Snapshot()
	d.tracker.Seed(loaded)
	recorder.Seed(loaded)

	if err := m.DriveOutputs(ctx); err != nil {
		logger.ErrorKV(ctx, "Initial output drive failed, serving anyway", "error", err)
	}

	servers := []*web.Server{web.New(d.cfg.HTTPAddr, m)}
	listeners := []net.Listener{lampLn}

	if adminLn != nil {
		servers = append(servers, web.NewAdmin(d.cfg.AdminAddr, d.tracker, d.registry))
		listeners = append(listeners, adminLn)
	}

	g, gctx := errgroup.WithContext(ctx)

	for i, srv := range servers {
		ln := listeners[i]

		g.Go(func() error {
			logger.InfoKV(ctx, "HTTP server listening", "addr", ln.Addr().String())

			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", ln.Addr(), err)
			}

			return nil
		})
	}

	d.publishSystem(ctx, mqtt.EventStartup, "")

	logger.InfoKV(ctx, "Started",
		"green", loaded.State(lamp.Green), "red", loaded.State(lamp.Red),
		"store", d.cfg.Store.Backend, "mqtt", d.cfg.MQTT.Broker)

	g.Go(func() error {
		<-gctx.Done()

		reason := shutdownReason(ctx)
		logger.InfoKV(ctx, "Shutting down", "reason", reason)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr(), err))
			}
		}

		// Toggles queued before the servers stopped go out ahead of SHUTDOWN.
		if notifier != nil {
			if err := notifier.Close(shutdownCtx); err != nil {
				logger.WarnKV(ctx, "Pending toggle events not published", "error", err)
			}
		}
		d.publishSystem(shutdownCtx, mqtt.EventShutdown, reason)

		return errors.Join(errs...)
	})

	return g.Wait()
}

// publishSystem sends a lifecycle event carrying the full status document.
func (d *daemon) publishSystem(ctx context.Context, event, reason string) {
	if d.publisher == nil {
		return
	}

	d.tracker.SetMQTTConnected(d.publisher.IsConnected())
	snap := d.tracker.Snapshot()

	err := d.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		logger.WarnKV(ctx, "Publish system event failed", "event", event, "error", err)
		return
	}

	logger.InfoKV(ctx, "Published system event", "event", event)
}

// feedrelay-collector measures the latency of market-data events, either
// straight from the upstream feed (direct mode) or as relayed by a
// feedrelay-forwarder (relayed mode), over a bounded collection window.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/m-lab/feedrelay/internal/collector"
	"github.com/m-lab/feedrelay/internal/config"
	"github.com/m-lab/feedrelay/internal/emitter"
	"github.com/m-lab/feedrelay/internal/netx"
	"github.com/m-lab/feedrelay/internal/persistence"
	"github.com/m-lab/feedrelay/internal/relay"
	"github.com/m-lab/feedrelay/internal/stamp"
	"github.com/m-lab/feedrelay/internal/upstream"
	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
	"github.com/m-lab/feedrelay/pkg/feedrelay/spec"
	"github.com/m-lab/feedrelay/pkg/version"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
)

var (
	flagMode = flagx.Enum{
		Options: []string{string(spec.ModeDirect), string(spec.ModeRelayed)},
		Value:   string(spec.ModeDirect),
	}
	flagUpstreamURL     = flag.String("upstream.url", spec.DefaultUpstreamURL, "Upstream WebSocket feed URL (direct mode)")
	flagUpstreamChannel = flag.String("upstream.channel", "", "Channel to SUBSCRIBE to after connecting (direct mode, optional)")
	flagListenPort      = flag.Int("listen.port", spec.DefaultRelayPort, "Relay listen port (relayed mode)")
	flagDuration        = flag.Duration("duration", spec.DefaultDuration, "Collection window duration (0 for none)")
	flagCount           = flag.Int("count", 0, "Close the collection window after this many samples (0 for none)")
	flagOutput          = flag.String("output", "results.json", "Path to write the summary JSON to")
	flagCSVOutput       = flag.String("csv-output", "", "Path to write the per-event CSV ledger to (optional)")
	flagDataDir         = flag.String("datadir", "", "Directory to store archival data in (optional)")
	flagMaxBackoff      = flag.Duration("backoff.max", spec.DefaultMaxBackoff, "Maximum reconnection delay")
	flagDebug           = flag.Bool("debug", false, "Enable debug logging")
)

func init() {
	flag.Var(&flagMode, "mode", "Collection mode (direct|relayed)")
}

// startDirect feeds deliveries from the upstream feed.
func startDirect(ctx context.Context, cfg *config.Collector, em emitter.Emitter,
	out chan<- model.Delivery) func() []string {
	stamper := stamp.New(nil, spec.SequenceOrigin)
	source, err := upstream.New(upstream.Config{
		URL:     cfg.UpstreamURL,
		Channel: cfg.UpstreamChannel,
		Backoff: cfg.Backoff(),
		Clock:   stamper.Now,
	}, em)
	rtx.Must(err, "Cannot create upstream adapter")

	done := make(chan struct{})
	go func() {
		defer close(done)
		source.Run(ctx, func(f model.Frame) {
			select {
			case out <- model.NewDirectDelivery(stamper.Stamp(f)):
			case <-ctx.Done():
			}
		})
	}()
	return func() []string {
		<-done
		log.Info("Upstream adapter stopped", "received", source.Received(),
			"decode_failures", source.DecodeFailures())
		return nil
	}
}

// startRelayed feeds deliveries from the relay connection. The returned
// function waits for the receiver to stop and returns the uuids of the relay
// connections it accepted.
func startRelayed(ctx context.Context, cfg *config.Collector, em emitter.Emitter,
	out chan<- model.Delivery) func() []string {
	ln, err := netx.Listen(cfg.ListenAddr())
	rtx.Must(err, "Cannot listen on %s", cfg.ListenAddr())
	receiver := relay.NewReceiver(ln, em)
	log.Info("Waiting for the forwarder", "addr", receiver.Addr())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := receiver.Serve(ctx, out)
		if err != nil && ctx.Err() == nil {
			log.Error("Relay receiver failed", "error", err)
		}
	}()
	return func() []string {
		wg.Wait()
		log.Info("Relay receiver stopped", "connections", receiver.Accepted(),
			"received", receiver.Received(),
			"decode_failures", receiver.DecodeFailures())
		return receiver.ConnectionUUIDs()
	}
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")

	cfg := &config.Collector{
		Mode:            spec.Mode(flagMode.Value),
		UpstreamURL:     *flagUpstreamURL,
		UpstreamChannel: *flagUpstreamChannel,
		ListenPort:      *flagListenPort,
		Duration:        *flagDuration,
		Count:           *flagCount,
		Output:          *flagOutput,
		CSVOutput:       *flagCSVOutput,
		DataDir:         *flagDataDir,
		MaxBackoff:      *flagMaxBackoff,
		Debug:           *flagDebug,
	}
	rtx.Must(cfg.Validate(), "Invalid configuration")

	// Initialize logging and metrics.
	log.SetReportCaller(true)
	log.SetReportTimestamp(true)
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	promSrv := prometheusx.MustServeMetrics()
	defer promSrv.Close()

	// A signal closes the collection window early: partial results are
	// still reported.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
	defer cancel()

	runID := uuid.NewString()
	window := collector.Window{Duration: cfg.Duration, Count: cfg.Count}
	log.Info("Starting collector", "version", version.Version, "mode", cfg.Mode,
		"run", runID, "duration", window.Duration, "count", window.Count)

	em := emitter.Log{}
	deliveries := make(chan model.Delivery, spec.DeliveryBufferSize)
	srcCtx, srcCancel := context.WithCancel(ctx)
	var wait func() []string
	switch cfg.Mode {
	case spec.ModeDirect:
		wait = startDirect(srcCtx, cfg, em, deliveries)
	case spec.ModeRelayed:
		wait = startRelayed(srcCtx, cfg, em, deliveries)
	}

	agg := collector.NewAggregator(cfg.Mode)
	res := agg.Run(ctx, deliveries, window, em)
	srcCancel()
	relayUUIDs := wait()

	rtx.Must(collector.PrintSummary(os.Stdout, res.Summary), "Cannot print summary")

	// Persistence failures are logged: the summary has been printed anyway.
	if cfg.Output != "" {
		if err := persistence.WriteJSON(cfg.Output, res.Summary); err != nil {
			log.Error("Cannot write summary", "path", cfg.Output, "error", err)
		} else {
			log.Info("Summary saved", "path", cfg.Output)
		}
	}
	if cfg.CSVOutput != "" {
		if err := persistence.WriteLedgerCSV(cfg.CSVOutput, res.Records); err != nil {
			log.Error("Cannot write ledger", "path", cfg.CSVOutput, "error", err)
		} else {
			log.Info("Ledger saved", "path", cfg.CSVOutput, "records", len(res.Records))
		}
	}
	if cfg.DataDir != "" {
		data := model.NewArchivalData(runID, res.Start, res.End, window.Config(),
			res.Summary)
		data.RelayConnectionUUIDs = relayUUIDs
		df, err := persistence.WriteDataFile(cfg.DataDir, spec.Datatype,
			string(cfg.Mode), runID, data)
		if err != nil {
			log.Error("Cannot write archival data", "datadir", cfg.DataDir,
				"error", err)
		} else {
			log.Info("Archival data saved", "path", df.Path, "size", df.Size)
		}
	}
}

// feedrelay-forwarder subscribes to the upstream market-data feed,
// timestamps and sequences every event and relays it to a collector.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/m-lab/feedrelay/internal/config"
	"github.com/m-lab/feedrelay/internal/emitter"
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
	flagUpstreamURL     = flag.String("upstream.url", spec.DefaultUpstreamURL, "Upstream WebSocket feed URL")
	flagUpstreamChannel = flag.String("upstream.channel", "", "Channel to SUBSCRIBE to after connecting (optional)")
	flagCollectorHost   = flag.String("collector.host", "", "Collector host")
	flagCollectorPort   = flag.Int("collector.port", spec.DefaultRelayPort, "Collector relay port")
	flagMaxBackoff      = flag.Duration("backoff.max", spec.DefaultMaxBackoff, "Maximum reconnection delay")
	flagQueueSize       = flag.Int("queue.size", spec.DefaultQueueSize, "Maximum number of envelopes waiting for the relay connection")
	flagCC              = flag.String("relay.cc", "", "Congestion control algorithm for the relay connection (e.g. bbr)")
	flagDebug           = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")

	cfg := config.Forwarder{
		UpstreamURL:     *flagUpstreamURL,
		UpstreamChannel: *flagUpstreamChannel,
		CollectorHost:   *flagCollectorHost,
		CollectorPort:   *flagCollectorPort,
		MaxBackoff:      *flagMaxBackoff,
		QueueSize:       *flagQueueSize,
		CC:              *flagCC,
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
	defer cancel()

	em := emitter.Log{}
	stamper := stamp.New(nil, spec.SequenceOrigin)
	source, err := upstream.New(upstream.Config{
		URL:     cfg.UpstreamURL,
		Channel: cfg.UpstreamChannel,
		Backoff: cfg.Backoff(),
		Clock:   stamper.Now,
	}, em)
	rtx.Must(err, "Cannot create upstream adapter")
	sender := relay.NewSender(relay.SenderConfig{
		Addr:      cfg.CollectorAddr(),
		Backoff:   cfg.Backoff(),
		QueueSize: cfg.QueueSize,
		CC:        cfg.CC,
	}, em)

	log.Info("Starting forwarder", "version", version.Version,
		"upstream", cfg.UpstreamURL, "collector", cfg.CollectorAddr())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sender.Run(ctx)
	}()
	source.Run(ctx, func(f model.Frame) {
		sender.Enqueue(stamper.Stamp(f))
	})
	wg.Wait()

	log.Info("Forwarder stopped", "stamped", stamper.Next()-spec.SequenceOrigin,
		"sent", sender.Sent(), "dropped", sender.Dropped(), "lost", sender.Lost(),
		"pending", sender.Pending(), "decode_failures", source.DecodeFailures())
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/maxpert/amqp-go-client/client"
	"github.com/maxpert/amqp-go-client/config"
	"github.com/maxpert/amqp-go-client/internal/broker"
	"github.com/maxpert/amqp-go-client/metrics"
	"github.com/maxpert/amqp-go-client/protocol"
)

// firstChannel is the id the scenario starts numbering channels from.
const firstChannel = 11

func main() {
	var (
		configFile      = flag.String("config", "", "Configuration file path (YAML/JSON)")
		generateConfig  = flag.String("generate-config", "", "Generate default config file and exit (e.g., config.yaml)")
		channels        = flag.Int("channels", 1, "Number of channels running the scenario concurrently")
		enableTelemetry = flag.Bool("telemetry", false, "Expose Prometheus metrics while the scenario runs")
		telemetryPort   = flag.Int("telemetry-port", 0, "Telemetry HTTP server port (default from config)")
		snapshotPath    = flag.String("snapshot", "", "Load emulator state from this file if present and save it on exit")
		keep            = flag.Bool("keep", false, "Keep the declared queues and exchanges instead of deleting them")
	)
	flag.Parse()

	if *generateConfig != "" {
		if err := config.DefaultConfig().Save(*generateConfig); err != nil {
			log.Fatalf("Failed to generate config file: %v", err)
		}
		fmt.Printf("Generated default configuration: %s\n", *generateConfig)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *channels < 1 || firstChannel+*channels-1 > cfg.Channel.MaxID {
		log.Fatalf("-channels must be between 1 and %d", cfg.Channel.MaxID-firstChannel+1)
	}

	logger, err := cfg.Log.Logger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, options{
		channels:     *channels,
		telemetry:    *enableTelemetry,
		port:         *telemetryPort,
		snapshotPath: *snapshotPath,
		keep:         *keep,
	}); err != nil {
		logger.Fatal("Scenario failed", zap.Error(err))
	}
}

type options struct {
	channels     int
	telemetry    bool
	port         int
	snapshotPath string
	keep         bool
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts options) error {
	brokerOpts := []broker.Option{broker.WithLogger(logger.Named("broker"))}
	clientOpts := []client.Option{client.WithConfig(cfg), client.WithLogger(logger.Named("client"))}

	if opts.telemetry {
		reg := prometheus.NewRegistry()
		collector := metrics.NewCollector(cfg.Metrics.Namespace, reg)
		brokerOpts = append(brokerOpts, broker.WithMetrics(collector))
		clientOpts = append(clientOpts, client.WithMetrics(collector))

		port := opts.port
		if port == 0 {
			port = cfg.Metrics.TelemetryPort
		}
		telemetryServer := metrics.NewServer(port, reg)
		go func() {
			if err := telemetryServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Telemetry server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			telemetryServer.Stop(shutdownCtx)
		}()
		fmt.Printf("Telemetry server listening on http://localhost:%d/metrics\n", port)
	}

	b := broker.New(brokerOpts...)
	if opts.snapshotPath != "" {
		if _, err := os.Stat(opts.snapshotPath); err == nil {
			if err := b.LoadSnapshot(opts.snapshotPath); err != nil {
				return err
			}
			logger.Info("Restored emulator state", zap.String("path", opts.snapshotPath))
		}
	}

	clientSide, brokerSide := net.Pipe()
	server := broker.NewServer(b, logger.Named("session"))
	served := make(chan error, 1)
	go func() { served <- server.Serve(protocol.NewNetConn(brokerSide)) }()

	conn, err := client.NewConnection(protocol.NewNetConn(clientSide), clientOpts...).Start()
	if err != nil {
		return err
	}

	results := make([][]step, opts.channels)
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		id := firstChannel + i
		g.Go(func() error {
			steps, err := scenario(gctx, conn, id, opts.keep)
			results[i] = steps
			return err
		})
	}
	scenarioErr := g.Wait()

	if err := conn.Close(); err != nil {
		logger.Warn("Connection close failed", zap.Error(err))
	}
	if err := <-served; err != nil {
		logger.Warn("Broker session ended with error", zap.Error(err))
	}

	if err := printResults(results); err != nil {
		return err
	}
	if scenarioErr != nil {
		return scenarioErr
	}

	if opts.snapshotPath != "" {
		if err := b.SaveSnapshot(opts.snapshotPath); err != nil {
			return err
		}
		logger.Info("Saved emulator state", zap.String("path", opts.snapshotPath))
	}
	return nil
}

// step is one normalized operation result as printed by the simulator.
type step struct {
	Channel    int                    `yaml:"channel"`
	Operation  string                 `yaml:"operation"`
	Method     string                 `yaml:"method,omitempty"`
	Properties map[string]interface{} `yaml:"properties,omitempty"`
	Header     map[string]interface{} `yaml:"header,omitempty"`
	Body       string                 `yaml:"body,omitempty"`
	Routed     *bool                  `yaml:"routed,omitempty"`
}

func record(id int, op string, resp *client.Response) step {
	s := step{Channel: id, Operation: op, Method: resp.Method, Properties: resp.Properties, Header: resp.Header}
	if resp.Body != nil {
		s.Body = string(resp.Body)
	}
	return s
}

// scenario declares an exchange and a queue, binds them, publishes one
// message through the default exchange and fetches it back.
func scenario(ctx context.Context, conn *client.Connection, id int, keep bool) ([]step, error) {
	ch, err := conn.Channel(ctx, id)
	if err != nil {
		return nil, err
	}
	defer ch.Release()

	exchange := fmt.Sprintf("my_exchange.%d", id)
	queue := fmt.Sprintf("my_queue.%d", id)

	var steps []step
	do := func(op string, fn func() (*client.Response, error)) error {
		resp, err := fn()
		if err != nil {
			return fmt.Errorf("channel %d %s: %w", id, op, err)
		}
		steps = append(steps, record(id, op, resp))
		return nil
	}

	ops := []struct {
		name string
		fn   func() (*client.Response, error)
	}{
		{"exchange.declare", func() (*client.Response, error) {
			return ch.ExchangeDeclare(ctx, exchange, client.ExchangeDirect, client.ExchangeDeclareOptions{Durable: true})
		}},
		{"queue.declare", func() (*client.Response, error) {
			return ch.QueueDeclare(ctx, queue, client.QueueDeclareOptions{Durable: true})
		}},
		{"queue.bind", func() (*client.Response, error) {
			return ch.QueueBind(ctx, queue, exchange, client.BindOptions{RoutingKey: "my_key"})
		}},
	}
	for _, op := range ops {
		if err := do(op.name, op.fn); err != nil {
			return steps, err
		}
	}

	routed, err := ch.BasicPublish(ctx, []byte("message_body"), "", queue, client.PublishOptions{Persistent: keep})
	if err != nil {
		return steps, fmt.Errorf("channel %d basic.publish: %w", id, err)
	}
	steps = append(steps, step{Channel: id, Operation: "basic.publish", Routed: &routed})

	if !keep {
		ops = []struct {
			name string
			fn   func() (*client.Response, error)
		}{
			{"basic.get", func() (*client.Response, error) {
				return ch.BasicGet(ctx, queue, client.GetOptions{NoAck: true})
			}},
			{"basic.get", func() (*client.Response, error) {
				return ch.BasicGet(ctx, queue, client.GetOptions{NoAck: true})
			}},
			{"queue.unbind", func() (*client.Response, error) {
				return ch.QueueUnbind(ctx, queue, exchange, client.BindOptions{RoutingKey: "my_key"})
			}},
			{"queue.delete", func() (*client.Response, error) {
				return ch.QueueDelete(ctx, queue, client.QueueDeleteOptions{})
			}},
			{"exchange.delete", func() (*client.Response, error) {
				return ch.ExchangeDelete(ctx, exchange, client.ExchangeDeleteOptions{})
			}},
		}
		for _, op := range ops {
			if err := do(op.name, op.fn); err != nil {
				return steps, err
			}
		}
	}
	return steps, nil
}

func printResults(results [][]step) error {
	var all []step
	for _, steps := range results {
		all = append(all, steps...)
	}
	out, err := yaml.Marshal(all)
	if err != nil {
		return fmt.Errorf("failed to render results: %w", err)
	}
	_, err = os.Stdout.Write(out)
	return err
}

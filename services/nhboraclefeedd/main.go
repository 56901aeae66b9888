package nhboraclefeedd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"oraclechain/observability/logging"
	telemetry "oraclechain/observability/otel"
	"oraclechain/services/oraclerpc"
)

// Main runs the nhboraclefeedd reporter daemon using the provided command
// line flags. It polls native/swap's off-chain aggregator and submits push
// calls against the chain's oracle RPC surface on a fixed interval, while
// also exposing its own bearer-gated /push endpoint for on-demand kicks.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/nhboraclefeedd/config.toml", "path to nhboraclefeedd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("NHB_ENV"))
	logging.Setup("nhboraclefeedd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "nhboraclefeedd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Source == "" {
		return fmt.Errorf("config: source account required")
	}
	if len(cfg.Pairs) == 0 {
		return fmt.Errorf("config: at least one pair required")
	}

	client, err := oraclerpc.NewClient(oraclerpc.Config{
		BaseURL:       cfg.ChainRPCURL,
		BearerToken:   cfg.ChainBearerToken,
		AllowInsecure: strings.HasPrefix(cfg.ChainRPCURL, "http://"),
	})
	if err != nil {
		return fmt.Errorf("build chain rpc client: %w", err)
	}

	feeder := NewFeeder(cfg, client, http.DefaultClient)
	server := NewServer(cfg, feeder, log.Default())

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(server.Router(), "nhboraclefeedd"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	go func() {
		log.Printf("nhboraclefeedd listening on %s", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()
	go func() {
		errs <- runPollLoop(stopCtx, feeder, cfg.PollInterval())
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed && err != context.Canceled {
			return err
		}
		return nil
	}
}

func runPollLoop(ctx context.Context, feeder *Feeder, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pushed, errs := feeder.PollAndPushAll(ctx)
			for _, err := range errs {
				log.Printf("nhboraclefeedd: push failed: %v", err)
			}
			if pushed > 0 {
				log.Printf("nhboraclefeedd: pushed %d pair(s)", pushed)
			}
		}
	}
}

// Command orderlined runs the voice-ordering relay: a Twilio voice
// webhook, a Media Streams WebSocket endpoint, and the per-call
// session orchestrator behind them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/agentplexus/orderline"
	"github.com/agentplexus/orderline/config"
	"github.com/agentplexus/orderline/dispatch"
	"github.com/agentplexus/orderline/internal/sheets"
	"github.com/agentplexus/orderline/menu"
	"github.com/agentplexus/orderline/realtime"
	"github.com/agentplexus/orderline/session"
	"github.com/agentplexus/orderline/telephony"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := pflag.String("config", os.Getenv("ORDERLINE_CONFIG"), "path to the YAML config file")
	pflag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("orderlined failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := buildMenu(cfg, logger)
	if err != nil {
		return err
	}

	sinks, cleanup, err := buildSinks(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	dispatcher := dispatch.New(
		dispatch.WithSinks(sinks...),
		dispatch.WithRetryPolicy(dispatch.RetryPolicy{
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			BaseBackoff: cfg.Dispatch.BaseBackoff(),
			MaxBackoff:  cfg.Dispatch.MaxBackoff(),
		}),
		dispatch.WithLogger(logger),
	)

	dial := func(ctx context.Context) (session.AIChannel, error) {
		return realtime.Dial(ctx,
			realtime.WithURL(cfg.Realtime.URL),
			realtime.WithModel(cfg.Realtime.Model),
			realtime.WithAPIKey(cfg.Realtime.APIKey()),
		)
	}
	handler := session.NewHandler(store, dispatcher, dial,
		session.WithLogger(logger),
		session.WithTaxRate(cfg.TaxRate),
		session.WithShopName(cfg.ShopName),
		session.WithVoice(cfg.Realtime.Voice),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /voice", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		from := r.FormValue("From")
		logger.Info("incoming call", "call_id", r.FormValue("CallSid"), "from", from)
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, telephony.StreamTwiML(cfg.PublicStreamURL, from))
	})
	mux.HandleFunc("GET /media-stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := telephony.Accept(w, r)
		if err != nil {
			logger.Error("media stream upgrade failed", "error", err)
			return
		}
		handler.HandleCall(r.Context(), conn)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		// No read/write timeouts: media-stream connections live for
		// the duration of a phone call.
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("orderlined listening", "addr", cfg.Listen, "version", orderline.Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		// Let in-flight order deliveries finish.
		handler.Wait()
		logger.Info("server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

// buildMenu assembles the catalog store: the built-in catalog, the
// config file's inline menu when present, and a spreadsheet load on
// top when configured.
func buildMenu(cfg *config.Config, logger *slog.Logger) (*menu.Store, error) {
	static := menu.Default()
	if len(cfg.Menu) > 0 {
		items := make([]menu.Item, 0, len(cfg.Menu))
		for _, item := range cfg.Menu {
			items = append(items, menu.Item{
				Name:   item.Name,
				Sizes:  item.Sizes,
				Prices: item.Prices,
			})
		}
		static = menu.New(items)
	}
	store := menu.NewStore(static)

	if cfg.MenuSheet.SpreadsheetID != "" {
		client, err := sheets.New(&sheets.Config{Token: cfg.MenuSheet.Token()})
		if err != nil {
			return nil, fmt.Errorf("menu sheet: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		rows, err := client.ReadRange(ctx, cfg.MenuSheet.SpreadsheetID, cfg.MenuSheet.Range)
		if err != nil {
			return nil, fmt.Errorf("menu sheet: %w", err)
		}
		dynamic, err := menu.FromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("menu sheet: %w", err)
		}
		store.Replace(dynamic)
		logger.Info("menu loaded from spreadsheet", "spreadsheet_id", cfg.MenuSheet.SpreadsheetID)
	}
	return store, nil
}

// buildSinks assembles the configured delivery sinks. The returned
// cleanup closes sink-held connections.
func buildSinks(cfg *config.Config) ([]dispatch.Sink, func(), error) {
	var sinks []dispatch.Sink
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Dispatch.WebhookURL != "" {
		sinks = append(sinks, dispatch.NewWebhookSink(cfg.Dispatch.WebhookURL))
	}
	if cfg.Dispatch.Sheet.SpreadsheetID != "" {
		client, err := sheets.New(&sheets.Config{Token: cfg.Dispatch.Sheet.Token()})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("sheet sink: %w", err)
		}
		sinks = append(sinks, dispatch.NewSheetSink(client, cfg.Dispatch.Sheet.SpreadsheetID))
	}
	if cfg.Dispatch.AMQP.URL != "" {
		sink, err := dispatch.NewAMQPSink(cfg.Dispatch.AMQP.URL, cfg.Dispatch.AMQP.Exchange, "orders.new")
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("amqp sink: %w", err)
		}
		sinks = append(sinks, sink)
		closers = append(closers, sink.Close)
	}
	if cfg.Dispatch.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := dispatch.OpenStore(ctx, cfg.Dispatch.PostgresDSN)
		cancel()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("store sink: %w", err)
		}
		sinks = append(sinks, dispatch.NewStoreSink(db))
		closers = append(closers, func() { _ = db.Close() })
	}
	return sinks, cleanup, nil
}

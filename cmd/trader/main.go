package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"perpmomentum/internal/accountstate"
	"perpmomentum/internal/archive"
	"perpmomentum/internal/candlehistory"
	"perpmomentum/internal/cfg"
	"perpmomentum/internal/common"
	"perpmomentum/internal/engine"
	"perpmomentum/internal/exchange/bitunix"
	"perpmomentum/internal/gateway"
	"perpmomentum/internal/health"
	"perpmomentum/internal/logging"
	"perpmomentum/internal/metrics"
	"perpmomentum/internal/statestore"
)

func main() {
	c, err := cfg.Load(os.Getenv(common.EnvConfigFile))
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	loggers, err := logging.New("logs")
	if err != nil {
		log.Fatal().Err(err).Msg("logging setup failed")
	}
	defer loggers.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	store, err := statestore.New(dataDir())
	if err != nil {
		log.Fatal().Err(err).Msg("state store setup failed")
	}
	state := accountstate.New(store, loggers.Trading)

	history := candlehistory.New(common.HistoryCapacity)

	archiveStore, err := archive.Open(dataDir())
	if err != nil {
		log.Warn().Err(err).Msg("candle archive unavailable, continuing without it")
	} else {
		defer archiveStore.Close()
	}

	restClient := bitunix.NewREST(
		firstAccountKey(c), firstAccountSecret(c), c.OrderURL, common.DefaultRESTTimeout,
	)
	marketStream := bitunix.NewMarketStream(restClient, wsURL())

	userStreams := make(map[string]gateway.UserStream, len(c.Accounts))
	for _, a := range c.Accounts {
		acctLog, err := loggers.AccountLogger("logs", a.Name)
		if err != nil {
			log.Warn().Err(err).Str("account", a.Name).Msg("account log file unavailable")
		} else {
			acctLog.Info().Msg("account logger initialized")
		}
		userStreams[a.Name] = bitunix.NewUserStream(userStreamURL(), a.APIKey)
	}

	var gw gateway.OrderGateway = restClient

	for _, p := range c.Pairs {
		if p.Leverage > 0 {
			if err := restClient.ChangeLeverage(ctx, p.Symbol, p.Leverage); err != nil {
				log.Warn().Err(err).Str("symbol", p.Symbol).Msg("failed to set leverage")
			}
		}
		if p.MarginMode != "" {
			if err := restClient.ChangeMarginMode(ctx, p.Symbol, p.MarginMode); err != nil {
				log.Warn().Err(err).Str("symbol", p.Symbol).Msg("failed to set margin mode")
			}
		}
	}

	eng := engine.New(c, state, history, archiveStore, marketStream, gw, userStreams, m, loggers.Trading)

	healthServer := health.New(common.DefaultHealthPort, eng, time.Now())
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{
			Addr:    fmt.Sprintf(":%d", common.DefaultMetricsPort),
			Handler: mux,
		}
		go func() {
			<-ctx.Done()
			server.Shutdown(context.Background())
		}()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("engine run ended")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-runDone:
		log.Info().Msg("engine stopped on its own")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	_ = healthServer.Shutdown(common.DefaultShutdownGrace)
	eng.Shutdown()
	log.Info().Msg("shutdown complete")
}

func dataDir() string {
	if d := os.Getenv("DATA_DIR"); d != "" {
		return d
	}
	return "data"
}

func wsURL() string {
	if u := os.Getenv("WS_URL"); u != "" {
		return u
	}
	return "wss://fapi.bitunix.com/ws/market"
}

func userStreamURL() string {
	if u := os.Getenv("USER_STREAM_URL"); u != "" {
		return u
	}
	return "wss://fapi.bitunix.com/ws/user"
}

func firstAccountKey(c cfg.Config) string {
	if len(c.Accounts) == 0 {
		return ""
	}
	return c.Accounts[0].APIKey
}

func firstAccountSecret(c cfg.Config) string {
	if len(c.Accounts) == 0 {
		return ""
	}
	return c.Accounts[0].APISecret
}

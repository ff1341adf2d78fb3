package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/otenielpinto/mdfe/internal/auth"
	"github.com/otenielpinto/mdfe/internal/certificado"
	"github.com/otenielpinto/mdfe/internal/config"
	"github.com/otenielpinto/mdfe/internal/db"
	internalhttp "github.com/otenielpinto/mdfe/internal/http"
	"github.com/otenielpinto/mdfe/internal/lock"
	"github.com/otenielpinto/mdfe/internal/mdfe"
	"github.com/otenielpinto/mdfe/internal/monitor"
	"github.com/otenielpinto/mdfe/internal/municipio"
	"github.com/otenielpinto/mdfe/internal/notify"
	"github.com/otenielpinto/mdfe/internal/publish"
	"github.com/otenielpinto/mdfe/internal/sefaz"
	"github.com/otenielpinto/mdfe/internal/storage"
	"github.com/otenielpinto/mdfe/internal/usuario"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("api encerrada com erro")
	}
}

func run() error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis parse: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	uploader, err := storage.New(cfg.Storage)
	if err != nil {
		return err
	}

	var publisher publish.Publisher = publish.Noop{}
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := publish.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return fmt.Errorf("rabbitmq: %w", err)
		}
		defer rabbit.Close()
		publisher = rabbit
	} else {
		log.Warn().Msg("RABBITMQ_URL vazio; transições não serão publicadas")
	}

	var notifier notify.Notifier
	if slack := notify.NewSlackNotifier(cfg.SlackWebhookURL); slack != nil {
		notifier = slack
	}

	if cfg.Sefaz.BaseURL == "" || cfg.Sefaz.Token == "" {
		log.Warn().Msg("SEFAZ_API_URL/SEFAZ_API_TOKEN ausentes; operações fiscais vão falhar")
	}
	gateway := sefaz.New(sefaz.Config{
		BaseURL:      cfg.Sefaz.BaseURL,
		Token:        cfg.Sefaz.Token,
		Timeout:      cfg.Sefaz.Timeout,
		EnvioTimeout: cfg.Sefaz.EnvioTimeout,
	})

	municipios := municipio.NewService(
		municipio.NewRepository(pool),
		redisClient,
		cfg.MunicipioCacheTTL,
		log.With().Str("component", "municipio").Logger(),
	)

	mdfeService := mdfe.NewService(mdfe.Deps{
		Store:        mdfe.NewRepository(pool),
		Gateway:      gateway,
		Municipios:   municipios,
		Certificados: certificado.NewRepository(pool),
		Locker:       lock.NewRedisLocker(redisClient),
		Uploader:     uploader,
		Notifier:     notifier,
		Publisher:    publisher,
		Logger:       log.With().Str("component", "mdfe").Logger(),
		LockTTL:      cfg.LockTTL,
	})
	mdfeHandler := mdfe.NewHandler(mdfeService, log.With().Str("component", "mdfe_http").Logger())

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessTTL)
	usuarios := usuario.NewService(usuario.NewRepository(pool), jwtManager, log.With().Str("component", "usuario").Logger())

	sefazMonitor := monitor.NewService(gateway, monitor.NewRepository(pool), cfg.Monitor, notifier, log.With().Str("component", "monitor").Logger())
	sefazMonitor.Start(ctx)
	defer sefazMonitor.Stop()

	handler := internalhttp.NewRouter(cfg, pool, redisClient, usuarios, mdfeHandler, sefazMonitor, log.With().Str("component", "http").Logger())

	// WriteTimeout acima do timeout de envio para não cortar a resposta da SEFAZ.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Sefaz.EnvioTimeout + 15*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("API ouvindo em :%d", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("encerrando...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	// aguarda chamadas fiscais em voo antes de fechar pool e redis
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Sefaz.EnvioTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

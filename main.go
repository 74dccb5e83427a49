package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mi6Fsoc/reroom-prototype/adapters/catalog"
	"github.com/mi6Fsoc/reroom-prototype/adapters/hasher"
	httpadapter "github.com/mi6Fsoc/reroom-prototype/adapters/http"
	"github.com/mi6Fsoc/reroom-prototype/adapters/imaging"
	"github.com/mi6Fsoc/reroom-prototype/adapters/llm"
	"github.com/mi6Fsoc/reroom-prototype/adapters/message_broker"
	"github.com/mi6Fsoc/reroom-prototype/adapters/speech"
	"github.com/mi6Fsoc/reroom-prototype/adapters/tts"
	"github.com/mi6Fsoc/reroom-prototype/adapters/websocket"
	"github.com/mi6Fsoc/reroom-prototype/config"
	"github.com/mi6Fsoc/reroom-prototype/usecase"
	"github.com/mi6Fsoc/reroom-prototype/utils/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	defer log.Sync()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.With().Fatal("Failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	styles, err := catalog.Default()
	if err != nil {
		log.With().Fatal("Failed to load style catalog", zap.Error(err))
	}

	geminiLlm, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:        cfg.Gemini.APIKey,
		ChatModel:     cfg.Gemini.ChatModel,
		ImageModel:    cfg.Gemini.ImageModel,
		AnalysisModel: cfg.Gemini.AnalysisModel,
		Timeout:       cfg.Gemini.Timeout,
	})
	if err != nil {
		log.With().Fatal("Failed to create Gemini client", zap.Error(err))
	}

	broker := message_broker.NewChannelMessageBroker()
	registry := usecase.NewSessionRegistry(usecase.RegistryConfig{
		IdleTimeout: cfg.Session.IdleTimeout,
		MaxSessions: cfg.Session.MaxSessions,
	})

	deps := usecase.DesignServiceDeps{
		Catalog:  styles,
		Llm:      geminiLlm,
		Codec:    imaging.NewPNGCodec(),
		Hasher:   hasher.New(),
		Broker:   broker,
		Sessions: registry,
	}
	if cfg.Voice.Enabled {
		googleSpeech, err := speech.NewGoogleSpeech(ctx, speech.Config{
			LanguageCode: cfg.Voice.LanguageCode,
			SampleRate:   cfg.Voice.SampleRate,
		})
		if err != nil {
			log.With().Fatal("Failed to create speech client", zap.Error(err))
		}
		googleTTS, err := tts.NewGoogleTTS(ctx, cfg.Voice.LanguageCode)
		if err != nil {
			log.With().Fatal("Failed to create tts client", zap.Error(err))
		}
		deps.Transcriber = googleSpeech
		deps.Synthesizer = googleTTS
	}
	svc := usecase.NewDesignService(deps)

	tokens := httpadapter.NewTokenIssuer(cfg.Session.TokenSecret, cfg.Session.TokenTTL)

	server, err := websocket.NewServer(ctx, svc, broker)
	if err != nil {
		log.With().Fatal("Failed to start websocket server", zap.Error(err))
	}
	server.RunWebsocketHub()

	designHandler := httpadapter.NewDesignHandler(svc, tokens, cfg.HTTP.MaxConcurrent)

	e := echo.New()
	e.HideBanner = true

	// Security middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
		rateLimit(cfg.HTTP.RatePerMinute),
	)))

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.HTTP.AllowOrigins,
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"If-None-Match",
			"Content-Length",
		},
		ExposeHeaders: []string{"ETag", echo.HeaderContentDisposition},
		MaxAge:        86400,
	}))

	e.Use(middleware.BodyLimit(cfg.HTTP.BodyLimit))

	wsGroup := e.Group("/ws")
	wsGroup.Use(tokens.Middleware)
	wsGroup.GET("", server.Handler)

	designHandler.Register(e.Group("/api/v1"))

	log.With().Info("Starting server",
		zap.String("addr", cfg.HTTP.Addr),
		zap.Bool("voice", cfg.Voice.Enabled),
		zap.Strings("endpoints", []string{
			"GET    /api/v1/health",
			"GET    /api/v1/styles",
			"POST   /api/v1/sessions",
			"GET    /api/v1/session",
			"POST   /api/v1/session/image",
			"POST   /api/v1/session/styles/:id",
			"POST   /api/v1/session/pending/confirm",
			"POST   /api/v1/session/chat",
			"GET    /ws",
		}))

	go func() {
		if err := e.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.With().Fatal("Server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.With().Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.With().Error("HTTP shutdown failed", zap.Error(err))
	}
	server.Shutdown()
	svc.Wait()
	registry.Shutdown()
	if err := broker.Close(); err != nil {
		log.With().Error("Closing message broker failed", zap.Error(err))
	}
}

// rateLimit converts a per-minute request budget into a limiter rate.
func rateLimit(perMinute int) rate.Limit {
	if perMinute <= 0 {
		perMinute = 20
	}
	return rate.Every(time.Minute / time.Duration(perMinute))
}

package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/config"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
	"quiz-room-service/internal/infra/natsbus"
	pgloader "quiz-room-service/internal/infra/postgres"
	redisinfra "quiz-room-service/internal/infra/redis"
	transport "quiz-room-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level, logLevel, cfg.Log.Pretty)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	roomTTL := config.Duration(cfg.Redis.TTL, 2*time.Hour)

	var loader memory.QuestionSetLoader = memory.NewStaticQuestionSetLoader(sampleQuestionSets())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = pgloader.NewQuestionSetLoader(pool)
	}

	setTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var questions app.QuestionRepository
	var rooms app.RoomRegistry
	var redisRooms *redisinfra.RoomRegistry
	if redisClient != nil {
		questions = redisinfra.NewQuestionRepository(redisClient, loader, setTTL)
		redisRooms = redisinfra.NewRoomRegistry(redisClient, roomTTL)
		rooms = redisRooms
	} else {
		questions = memory.NewQuestionRepository(loader, setTTL)
		rooms = memory.NewRoomRegistry()
	}

	hub := transport.NewHub(0)
	var out app.Broadcaster = hub
	if cfg.NATS.URL != "" {
		nc, err := natsbus.Connect(natsbus.Config{URL: cfg.NATS.URL})
		if err != nil {
			return err
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				log.Warn().Err(err).Msg("drain NATS connection")
			}
		}()
		out = natsbus.NewMirror(hub, nc, cfg.NATS.SubjectPrefix)
	}

	defaults := app.DefaultTimings()
	service := app.NewQuizService(rooms, questions, out, nil, app.Options{
		DefaultMaxPlayers: cfg.Quiz.MaxPlayers,
		DefaultFlow:       domain.ParseFlow(cfg.Quiz.Flow, domain.FlowAuto),
		Timings: app.Timings{
			RevealDelay:        config.Duration(cfg.Quiz.RevealDelay, defaults.RevealDelay),
			InterQuestionDelay: config.Duration(cfg.Quiz.InterQuestionDelay, defaults.InterQuestionDelay),
			FinalDelay:         config.Duration(cfg.Quiz.FinalDelay, defaults.FinalDelay),
			TickInterval:       defaults.TickInterval,
		},
		NotifyPlayersOnHostLeave: cfg.Quiz.NotifyPlayersOnHostLeave,
	})
	wsHandler := transport.NewWSHandler(service, hub, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr: ":" + finalPort,
		Handler: transport.NewRouter(service, wsHandler, transport.RouterConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			PublicURL:      cfg.Server.PublicURL,
		}),
		ReadHeaderTimeout: 15 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("starting quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if redisRooms != nil {
		group.Go(func() error {
			refreshRoomMarkers(ctx, redisRooms, roomTTL/2)
			return nil
		})
	}
	err = group.Wait()
	if redisRooms != nil {
		redisRooms.Wait()
	}
	return err
}

// refreshRoomMarkers keeps Redis markers of long-running rooms alive.
func refreshRoomMarkers(ctx context.Context, rooms *redisinfra.RoomRegistry, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rooms.Touch(ctx); err != nil {
				log.Warn().Err(err).Msg("refresh room markers")
			}
		}
	}
}

// sampleQuestionSets is the built-in set served when no Postgres is configured.
func sampleQuestionSets() map[string]domain.QuestionSet {
	return map[string]domain.QuestionSet{
		"sample": {
			ID:    "sample",
			Title: "Warm-up",
			Questions: []domain.Question{
				{Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: "4", TimeLimitSeconds: 20},
				{Text: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Mars", "Jupiter"}, CorrectOption: "Mars", TimeLimitSeconds: 20},
			},
		},
	}
}

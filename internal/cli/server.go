package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"portal-duel-service/internal/config"
	"portal-duel-service/internal/domain"
	"portal-duel-service/internal/duel"
	"portal-duel-service/internal/infra/memory"
	pgloader "portal-duel-service/internal/infra/postgres"
	infraredis "portal-duel-service/internal/infra/redis"
	"portal-duel-service/internal/realtime"
	transport "portal-duel-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the relay server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the duel relay server",
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

	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
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
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuestionSetLoader = memory.NewStaticQuestionSetLoader(sampleQuestionSets())
	if pool != nil {
		loader = pgloader.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo duel.QuizRepository
	if redisClient != nil {
		quizRepo = infraredis.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var broker realtime.Broker
	if redisClient != nil {
		broker = infraredis.NewBroker(redisClient, log)
	} else {
		broker = memory.NewBroker()
	}

	server := transport.NewServer(broker, quizRepo, transport.StaticTokens(cfg.Auth.Tokens), log)

	httpServer := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting duel relay", zap.String("port", finalPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// sampleQuestionSets provides minimal dev-mode content; production loads
// question sets from Postgres.
func sampleQuestionSets() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"math:quiz-1": {
			ID:        "quiz-1",
			SubjectID: "math",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
				},
				{
					ID:     "q2",
					Prompt: "What is 6 × 7?",
					Options: []domain.Option{
						{ID: "o1", Text: "42", Correct: true},
						{ID: "o2", Text: "48", Correct: false},
						{ID: "o3", Text: "36", Correct: false},
					},
				},
			},
		},
	}
}

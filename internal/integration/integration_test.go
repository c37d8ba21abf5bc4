package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"portal-duel-service/internal/domain"
	"portal-duel-service/internal/duel"
	pgloader "portal-duel-service/internal/infra/postgres"
	pgmigrations "portal-duel-service/internal/infra/postgres/migrations"
	infraredis "portal-duel-service/internal/infra/redis"
	"portal-duel-service/internal/realtime"
)

// TestDuelEndToEnd runs a full duel between two clients over a real redis
// relay, with the question set served from postgres through the redis cache.
func TestDuelEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuestionSet(t, ctx, pgURL, sampleQuestionSet())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	quizzes := infraredis.NewQuizRepository(redisClient, pgloader.NewQuizLoader(pool), 5*time.Minute)
	broker := infraredis.NewBroker(redisClient, zap.NewNop())

	alice := startDuelClient(t, broker, quizzes, domain.User{ID: "u1", FirstName: "Alice"})
	bob := startDuelClient(t, broker, quizzes, domain.User{ID: "u2", FirstName: "Bob"})

	waitOnline(t, alice.client, "u2")
	waitOnline(t, bob.client, "u1")

	if err := alice.client.Challenge(ctx, domain.User{ID: "u2", FirstName: "Bob"}, "quiz-1", "math"); err != nil {
		t.Fatalf("challenge: %v", err)
	}

	var invite domain.DuelChallenge
	select {
	case invite = <-bob.invites:
	case <-time.After(5 * time.Second):
		t.Fatalf("bob never received the challenge")
	}
	if err := bob.client.Accept(ctx, invite); err != nil {
		t.Fatalf("accept: %v", err)
	}

	select {
	case out := <-alice.outcomes:
		if out.Request.State != domain.ChallengeAccepted {
			t.Fatalf("expected accepted, got %+v", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("alice never saw the accept")
	}

	// Both mirrors have to reach playing before the first answer is sent.
	alice.waitPhase(t, domain.PhasePlaying)
	bob.waitPhase(t, domain.PhasePlaying)

	if err := bob.client.ActiveSession().SubmitAnswer(ctx, "o2"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	for name, p := range map[string]*duelProbe{"alice": alice, "bob": bob} {
		select {
		case result := <-p.finished:
			if result.Draw || result.Winner != "u2" {
				t.Fatalf("%s: expected bob to win, got %+v", name, result)
			}
			if result.Scores["u2"] != domain.PointsPerWin || result.Scores["u1"] != 0 {
				t.Fatalf("%s: unexpected scores %+v", name, result.Scores)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s never finished", name)
		}
	}
}

type duelProbe struct {
	client   *duel.Client
	invites  chan domain.DuelChallenge
	outcomes chan duel.Outcome
	phases   chan domain.DuelPhase
	finished chan duel.Result
}

func startDuelClient(t *testing.T, broker realtime.Broker, quizzes duel.QuizRepository, self domain.User) *duelProbe {
	t.Helper()
	p := &duelProbe{
		invites:  make(chan domain.DuelChallenge, 4),
		outcomes: make(chan duel.Outcome, 4),
		phases:   make(chan domain.DuelPhase, 64),
		finished: make(chan duel.Result, 1),
	}

	manager := realtime.NewManager(broker, nil, zap.NewNop())
	conn := manager.Connect()

	p.client = duel.NewClient(duel.ClientConfig{
		Self:           self,
		Manager:        manager,
		Sender:         realtime.NewSender(conn),
		Quizzes:        quizzes,
		Logger:         zap.NewNop(),
		SessionTimings: duel.Timings{Intro: 50 * time.Millisecond, Evaluate: 50 * time.Millisecond},
		OnInvite:       func(inv domain.DuelChallenge) { p.invites <- inv },
		OnOutcome:      func(out duel.Outcome) { p.outcomes <- out },
		Session: duel.SessionCallbacks{
			OnPhase:    func(ph domain.DuelPhase) { p.phases <- ph },
			OnFinished: func(r duel.Result) { p.finished <- r },
		},
	})
	if err := p.client.Start(context.Background()); err != nil {
		t.Fatalf("start client %s: %v", self.ID, err)
	}
	t.Cleanup(p.client.Stop)
	return p
}

func (p *duelProbe) waitPhase(t *testing.T, want domain.DuelPhase) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ph := <-p.phases:
			if ph == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %s", want)
		}
	}
}

func waitOnline(t *testing.T, c *duel.Client, userID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !c.IsOnline(userID) {
		if time.Now().After(deadline) {
			t.Fatalf("user %s never came online", userID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "duel", "POSTGRES_PASSWORD": "duelpass", "POSTGRES_DB": "dueldb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://duel:duelpass@%s:%s/dueldb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuestionSet(t *testing.T, ctx context.Context, dsn string, quiz domain.Quiz) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal question set: %v", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO question_sets (subject_id, quiz_id, data) VALUES (?, ?, ?::jsonb)
		 ON CONFLICT (subject_id, quiz_id) DO UPDATE SET data=EXCLUDED.data`,
		quiz.SubjectID, quiz.ID, string(data))
	if err != nil {
		t.Fatalf("insert question set: %v", err)
	}
}

func sampleQuestionSet() domain.Quiz {
	return domain.Quiz{
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
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}

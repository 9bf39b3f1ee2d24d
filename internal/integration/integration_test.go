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
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
	pgloader "quiz-room-service/internal/infra/postgres"
	pgmigrations "quiz-room-service/internal/infra/postgres/migrations"
	infraredis "quiz-room-service/internal/infra/redis"
	transport "quiz-room-service/internal/transport/http"
)

func TestQuestionSetQuizEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateDB(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgloader.NewQuestionSetLoader(pool)
	if err := loader.SaveQuestionSet(ctx, sampleSet()); err != nil {
		t.Fatalf("seed question set: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	questions := infraredis.NewQuestionRepository(redisClient, loader, 5*time.Minute)
	rooms := infraredis.NewRoomRegistry(redisClient, 5*time.Minute)
	hub := transport.NewHub(0)
	clock := clockwork.NewFakeClock()
	service := app.NewQuizService(rooms, questions, hub, clock, app.Options{})

	hostQueue := hub.Register("host")
	annQueue := hub.Register("ann")
	boQueue := hub.Register("bo")

	if _, err := service.CreateRoom(ctx, "ABCD", "host", app.CreateRoomRequest{MaxPlayers: 3}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if n, err := redisClient.Exists(ctx, infraredis.Key("ABCD")).Result(); err != nil || n != 1 {
		t.Fatalf("expected room marker in redis, got %d (%v)", n, err)
	}
	if err := service.JoinRoom(ctx, "ABCD", "ann", "Ann"); err != nil {
		t.Fatalf("join ann: %v", err)
	}
	if err := service.JoinRoom(ctx, "ABCD", "bo", "Bo"); err != nil {
		t.Fatalf("join bo: %v", err)
	}
	if err := service.LoadQuestionSet(ctx, "ABCD", "host", "arithmetic"); err != nil {
		t.Fatalf("load question set: %v", err)
	}
	if n, err := redisClient.Exists(ctx, "quiz:questions:arithmetic").Result(); err != nil || n != 1 {
		t.Fatalf("expected question set cached in redis, got %d (%v)", n, err)
	}
	if err := service.StartQuiz(ctx, "ABCD", "host"); err != nil {
		t.Fatalf("start quiz: %v", err)
	}
	next(t, annQueue, domain.EventQuestion)

	service.SubmitAnswer(ctx, "ABCD", "ann", "4")
	clock.Advance(5 * time.Second)
	service.SubmitAnswer(ctx, "ABCD", "bo", "4")

	var annResult, boResult domain.AnswerResultPayload
	decode(t, next(t, annQueue, domain.EventAnswerResult), &annResult)
	decode(t, next(t, boQueue, domain.EventAnswerResult), &boResult)
	if annResult.Awarded != 1000 || boResult.Awarded != 875 {
		t.Fatalf("expected 1000 and 875, got %d and %d", annResult.Awarded, boResult.Awarded)
	}

	var locked domain.QuestionLockedPayload
	decode(t, next(t, hostQueue, domain.EventQuestionLocked), &locked)
	if locked.CorrectOption != "4" {
		t.Fatalf("expected 4 revealed, got %q", locked.CorrectOption)
	}

	if err := service.EndQuiz(ctx, "ABCD", "host"); err != nil {
		t.Fatalf("end quiz: %v", err)
	}
	var final domain.FinalLeaderboardPayload
	decode(t, next(t, boQueue, domain.EventFinalLeaderboard), &final)
	if len(final.Players) != 2 || final.Players[0].Name != "Ann" || final.Players[1].Score != 875 {
		t.Fatalf("unexpected final leaderboard: %+v", final.Players)
	}
	rooms.Wait()
	if n, err := redisClient.Exists(ctx, infraredis.Key("ABCD")).Result(); err != nil || n != 0 {
		t.Fatalf("expected room marker cleared, got %d (%v)", n, err)
	}
}

func TestMissingQuestionSet(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	migrateDB(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	_, err = pgloader.NewQuestionSetLoader(pool).LoadQuestionSet(ctx, "nope")
	if err != domain.ErrQuestionSetNotFound {
		t.Fatalf("expected ErrQuestionSetNotFound, got %v", err)
	}
}

// next reads queued events until one of the given type arrives.
func next(t *testing.T, queue <-chan []byte, typ domain.EventType) json.RawMessage {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case data, ok := <-queue:
			if !ok {
				t.Fatalf("queue closed while waiting for %s", typ)
			}
			var msg struct {
				Type    domain.EventType `json:"type"`
				Payload json.RawMessage  `json:"payload"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if msg.Type == typ {
				return msg.Payload
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func decode(t *testing.T, raw json.RawMessage, dst any) {
	t.Helper()
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
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
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
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

func migrateDB(t *testing.T, ctx context.Context, dsn string) {
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
}

func sampleSet() domain.QuestionSet {
	return domain.QuestionSet{
		ID:    "arithmetic",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: "4", TimeLimitSeconds: 20},
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

package redis_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/barekit/docinsights/pkg/llm"
	redismem "github.com/barekit/docinsights/pkg/memory/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("Skipping redis test: docker unavailable: %v", err)
	}
	port, err := c.MappedPort(ctx, "6379")
	if err != nil {
		_ = c.Terminate(ctx)
		t.Fatalf("failed to get mapped port: %v", err)
	}
	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		t.Fatalf("failed to get host: %v", err)
	}
	return c, fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedisTranscript(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping redis container test in short mode")
	}
	ctx := context.Background()

	addr := os.Getenv("DOCINSIGHTS_TEST_REDIS_ADDR")
	if addr == "" {
		c, a := startRedis(t, ctx)
		defer func() { _ = c.Terminate(ctx) }()
		addr = a
	}

	mem := redismem.New(goredis.NewClient(&goredis.Options{Addr: addr}), time.Minute)
	defer mem.Close()

	session := fmt.Sprintf("test-%d", time.Now().UnixNano())
	if err := mem.Save(ctx, session, llm.Message{Role: llm.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := mem.Save(ctx, session, llm.Message{Role: llm.RoleAssistant, Content: "hello", Citations: []string{"source_0"}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := mem.Load(ctx, session)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 2 || got[1].Citations[0] != "source_0" {
		t.Fatalf("unexpected transcript %+v", got)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped")
	}

	if err := mem.Clear(ctx, session); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	got, _ = mem.Load(ctx, session)
	if len(got) != 0 {
		t.Errorf("expected empty transcript, got %d", len(got))
	}
}

package relay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testNATSVersion = "2.11.7-alpine"

// TestServer runs a NATS server in a container for integration tests. The
// raw connection is available for subscribing in assertions.
type TestServer struct {
	URL  string
	Conn *nats.Conn

	container testcontainers.Container
}

// TestServerOption configures the test server.
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	jetstream    bool
	startTimeout time.Duration
}

// WithTestJetStream starts the server with JetStream enabled.
func WithTestJetStream() TestServerOption {
	return func(cfg *testServerConfig) {
		cfg.jetstream = true
	}
}

// WithTestStartTimeout overrides the container startup timeout.
func WithTestStartTimeout(timeout time.Duration) TestServerOption {
	return func(cfg *testServerConfig) {
		cfg.startTimeout = timeout
	}
}

// NewTestServer starts a NATS container and connects to it. Cleanup is
// registered on t.
func NewTestServer(t testing.TB, opts ...TestServerOption) *TestServer {
	t.Helper()

	cfg := &testServerConfig{startTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	args := []string{"--port", "4222"}
	if cfg.jetstream {
		args = append(args, "--js")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:" + testNATSVersion,
			ExposedPorts: []string{"4222/tcp"},
			Cmd:          args,
			WaitingFor:   wait.ForListeningPort("4222/tcp").WithStartupTimeout(cfg.startTimeout),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start NATS container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	url := fmt.Sprintf("nats://%s:%s", host, port.Port())

	conn, err := nats.Connect(url, nats.Timeout(5*time.Second))
	if err != nil {
		t.Fatalf("connect to test NATS: %v", err)
	}
	t.Cleanup(conn.Close)

	return &TestServer{URL: url, Conn: conn, container: container}
}

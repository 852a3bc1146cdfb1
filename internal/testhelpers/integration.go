//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresUser  = "weather"
	postgresPass  = "weather-pass"
	postgresDB    = "weather"
)

// PostgresDSN returns a DSN for a throwaway Postgres. INTEGRATION_DATABASE_URL,
// when set, is used instead of starting a container.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("INTEGRATION_DATABASE_URL"); dsn != "" {
		return dsn
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPass,
			"POSTGRES_DB":       postgresDB,
		},
		// Postgres logs readiness twice: once for the init server, once for the real one.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable (%v), skipping integration test", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(postgresUser, postgresPass),
		Host:     net.JoinHostPort(host, port.Port()),
		Path:     "/" + postgresDB,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// UnreachableDSN points at a port nothing listens on, for connect-retry tests.
func UnreachableDSN(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return fmt.Sprintf("postgres://nobody:nothing@%s/none?sslmode=disable&connect_timeout=1", addr)
}

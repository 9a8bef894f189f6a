package redis

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/hoale240803/kaopiz-sub000/internal/infra/config"
)

func TestNewClientPingsServer(t *testing.T) {
	server := miniredis.RunT(t)
	host, portText, _ := strings.Cut(server.Addr(), ":")
	port, err := strconv.Atoi(portText)
	if err != nil {
		t.Fatalf("unexpected miniredis address %q", server.Addr())
	}

	client, err := NewClient(context.Background(), config.RedisSettings{Host: host, Port: port}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}

	server.Close()
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail after the server stops")
	}
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	server := miniredis.RunT(t)
	host, portText, _ := strings.Cut(server.Addr(), ":")
	port, _ := strconv.Atoi(portText)
	server.Close()

	if _, err := NewClient(context.Background(), config.RedisSettings{Host: host, Port: port}, nil); err == nil {
		t.Fatal("expected NewClient to fail when the ping fails")
	}
}

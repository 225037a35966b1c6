package wire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docshard/docshard/internal/command"
)

var errBoom = errors.New("boom")

func startTestServer(t *testing.T, reg *command.Registry) (*Server, string) {
	t.Helper()
	srv := NewServer("127.0.0.1:0", reg)
	go func() {
		_ = srv.Start()
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := srv.Addr(); addr != "127.0.0.1:0" {
			t.Cleanup(func() { _ = srv.Stop() })
			return srv, addr
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("server never bound a listen address")
	return nil, ""
}

func TestClientServerRoundTrip(t *testing.T) {
	reg := command.New()
	reg.Register("echo", command.Handler{
		Run: func(ctx context.Context, argsJSON []byte) ([]byte, error) {
			return argsJSON, nil
		},
	})

	_, addr := startTestServer(t, reg)

	client := NewClient(addr)
	var out map[string]string
	err := client.Call(context.Background(), "echo", map[string]string{"hello": "world"}, &out)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["hello"] != "world" {
		t.Fatalf("got %v", out)
	}
}

func TestClientUnknownCommand(t *testing.T) {
	reg := command.New()
	_, addr := startTestServer(t, reg)

	client := NewClient(addr)
	err := client.Call(context.Background(), "nope", nil, nil)
	if err == nil {
		t.Fatal("expected error calling unregistered command")
	}
}

func TestClientHandlerError(t *testing.T) {
	reg := command.New()
	reg.Register("boom", command.Handler{
		Run: func(ctx context.Context, _ []byte) ([]byte, error) {
			return nil, errBoom
		},
	})
	_, addr := startTestServer(t, reg)

	client := NewClient(addr)
	if err := client.Call(context.Background(), "boom", nil, nil); err == nil {
		t.Fatal("expected error from handler failure")
	}
}

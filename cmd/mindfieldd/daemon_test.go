package main

import (
	"context"
	"testing"
	"time"

	"mindfield/internal/drbg"
	"mindfield/internal/ipc"
	"mindfield/internal/session"
)

func newTestHandler(t *testing.T) (ipc.Handler, chan struct{}) {
	t.Helper()
	rng, err := drbg.New(nil, drbg.WithSeed([]byte("handler-test")))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rng.Close() })

	controller := session.NewController(session.Config{}, rng, nil)
	shutdown := make(chan struct{})
	return newHandler(controller, shutdown), shutdown
}

func TestShutdownRequestIdempotent(t *testing.T) {
	handler, shutdown := newTestHandler(t)

	msg, err := ipc.NewMessage(ipc.MsgShutdown, nil)
	if err != nil {
		t.Fatal(err)
	}

	// A retrying client, or two clients, may each request shutdown. Every
	// request gets an ack and the daemon must not fall over.
	for i := 0; i < 3; i++ {
		resp, err := handler.HandleMessage(context.Background(), msg)
		if err != nil {
			t.Fatalf("shutdown request %d failed: %v", i, err)
		}
		if resp.Type != ipc.MsgShutdownResp {
			t.Fatalf("shutdown request %d: unexpected response type %d", i, resp.Type)
		}
	}

	select {
	case <-shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown channel never closed")
	}

	// One more after the close, then give the delayed goroutines time to
	// run; a double close would panic the test binary here.
	if _, err := handler.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("post-shutdown request failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
}

func TestHandlerPingAndStatus(t *testing.T) {
	handler, _ := newTestHandler(t)

	ping, err := ipc.NewMessage(ipc.MsgPing, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := handler.HandleMessage(context.Background(), ping)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Type != ipc.MsgPong {
		t.Errorf("expected pong, got %d", resp.Type)
	}

	statusReq, err := ipc.NewMessage(ipc.MsgStatus, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err = handler.HandleMessage(context.Background(), statusReq)
	if err != nil {
		t.Fatal(err)
	}
	var st session.Status
	if err := resp.Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Mode != "idle" {
		t.Errorf("fresh controller should report idle, got %q", st.Mode)
	}
}

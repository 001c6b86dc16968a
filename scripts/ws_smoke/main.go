package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/wiredm/internal/chatclient"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run registers two throwaway users, connects the receiver, sends one message
// over HTTP and waits for the push and the read receipt.
func run() error {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	suffix := uuid.NewString()[:8]
	senderToken, err := chatclient.Register(ctx, *server, "smoke-a-"+suffix, "", "smoke-password")
	if err != nil {
		return fmt.Errorf("register sender: %w", err)
	}
	receiverToken, err := chatclient.Register(ctx, *server, "smoke-b-"+suffix, "", "smoke-password")
	if err != nil {
		return fmt.Errorf("register receiver: %w", err)
	}
	senderID, err := chatclient.SelfID(senderToken)
	if err != nil {
		return err
	}
	receiverID, err := chatclient.SelfID(receiverToken)
	if err != nil {
		return err
	}

	receiverRT, err := chatclient.DialRealtime(ctx, *server, receiverToken, receiverID, nil)
	if err != nil {
		return fmt.Errorf("receiver realtime: %w", err)
	}
	defer receiverRT.Close()

	senderRT, err := chatclient.DialRealtime(ctx, *server, senderToken, senderID, nil)
	if err != nil {
		return fmt.Errorf("sender realtime: %w", err)
	}
	defer senderRT.Close()

	sent, err := chatclient.NewHTTPClient(*server, senderToken).SendMessage(ctx, receiverID, *text)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	log.Printf("sent message %d", sent.ID)

	ev, err := next(ctx, receiverRT.Events(), chatclient.EventIncoming)
	if err != nil {
		return err
	}
	if ev.Message.ID != sent.ID || ev.Message.Content != *text {
		return fmt.Errorf("unexpected push: %+v", *ev.Message)
	}
	log.Printf("receiver got %q", ev.Message.Content)

	if err := chatclient.NewHTTPClient(*server, receiverToken).MarkRead(ctx, sent.ID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if _, err := next(ctx, senderRT.Events(), chatclient.EventMessageRead); err != nil {
		return err
	}
	log.Printf("sender got read receipt")
	return nil
}

func next(ctx context.Context, events <-chan chatclient.Event, kind chatclient.EventKind) (chatclient.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return chatclient.Event{}, fmt.Errorf("waiting for event %d: %w", kind, ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return chatclient.Event{}, fmt.Errorf("connection closed while waiting for event %d", kind)
			}
			if ev.Kind == kind {
				return ev, nil
			}
		}
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"chatline/internal/backend"
	"chatline/internal/message"
)

const (
	UserCount = 100 // ⚠️ Start small. Every write fans a full snapshot out to every user.
	MsgCount  = 20  // Messages per user
)

func main() {
	baseURL := flag.String("server", "http://localhost:8080", "chatline server")
	users := flag.Int("users", UserCount, "concurrent users")
	msgs := flag.Int("msgs", MsgCount, "messages per user")
	flag.Parse()

	log.Printf("🔥 STARTING STRESS TEST: %d Users, %d Messages each...", *users, *msgs)
	start := time.Now()

	var sent, snapshots atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*users)
	for i := 0; i < *users; i++ {
		g.Go(func() error {
			return runUser(gctx, *baseURL, i, *msgs, &sent, &snapshots)
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("❌ LOAD TEST FAILED: %v", err)
	}
	log.Printf("✅ LOAD TEST COMPLETE: %d msgs, %d snapshots received in %s",
		sent.Load(), snapshots.Load(), time.Since(start).Round(time.Millisecond))

	stored, err := countRecords(ctx, *baseURL)
	if err != nil {
		log.Fatalf("❌ FINAL READ FAILED: %v", err)
	}
	log.Printf("📦 conversation holds %d records", stored)
}

// countRecords reads the conversation once, as the first load user.
func countRecords(ctx context.Context, baseURL string) (int, error) {
	c := backend.New(baseURL)
	if _, err := c.Login(ctx, "load_0", "password123"); err != nil {
		return 0, err
	}
	s, err := c.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(s.Children), nil
}

func runUser(ctx context.Context, baseURL string, n, msgs int, sent, snapshots *atomic.Int64) error {
	username := fmt.Sprintf("load_%d", n)
	pass := "password123"

	// 1. Register (existing account is fine) & Login
	c := backend.New(baseURL)
	if err := c.Register(ctx, username, pass); err != nil {
		return fmt.Errorf("register %s: %w", username, err)
	}
	id, err := c.Login(ctx, username, pass)
	if err != nil {
		return fmt.Errorf("login %s: %w", username, err)
	}

	// 2. Listen while writing
	sub, err := c.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", username, err)
	}
	defer sub.Close()
	go func() {
		for range sub.Snapshots() {
			snapshots.Add(1)
		}
	}()

	// 3. Spam Loop
	for i := 0; i < msgs; i++ {
		key, err := c.Push(ctx)
		if err != nil {
			return fmt.Errorf("push %s: %w", username, err)
		}
		m := message.Message{
			Name:        message.Ptr(id.Username),
			Text:        message.Ptr(fmt.Sprintf("LoadTest Msg %d from %s", i, username)),
			ID:          message.Ptr(key),
			UserID:      message.Ptr(id.UserID),
			TimeMessage: message.Ptr(message.FormatTime(time.Now())),
		}
		if err := c.Set(ctx, key, m); err != nil {
			return fmt.Errorf("send %s: %w", username, err)
		}
		sent.Add(1)
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("✅ %s finished sending %d msgs", username, msgs)
	return nil
}

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"chatline/internal/adapter"
	"chatline/internal/backend"
	"chatline/internal/config"
	"chatline/internal/imageload"
	"chatline/internal/logger"
	"chatline/internal/screen"
	"chatline/internal/session"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	server := flag.String("server", cfg.ServerURL, "chatline server URL")
	username := flag.String("user", "", "username")
	password := flag.String("password", "", "password")
	width := flag.Int("width", 80, "view width in cells")
	dataDir := flag.String("data", cfg.DataDir, "local data directory")
	flag.Parse()

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: chat -user NAME -password PASS [-server URL]")
		os.Exit(2)
	}
	if os.Getenv("CHAT_DEFAULT_AVATAR") == "" {
		cfg.DefaultAvatar = strings.TrimRight(*server, "/") + "/files/avatar/default.jpg"
	}

	logr := logger.New(os.Stderr, cfg.AppEnv == config.EnvProduction, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := backend.New(*server)
	v := newView(os.Stdout, *width)
	scr := screen.New(client, func() (session.Records, session.Blobs) { return session.Remote(client) }, screen.Options{
		DataDir:       *dataDir,
		DefaultAvatar: cfg.DefaultAvatar,
		Images: imageload.Options{
			OnReady: func(string, imageload.Status) { v.redraw() },
		},
		OnList: func([]adapter.Op, int) { v.redraw() },
	}, logger.Component(logr, "screen"))
	defer scr.SignOut()
	v.screen = scr

	go func() {
		for res := range scr.Results() {
			if res.Err != nil {
				v.notice("⚠️  %s failed: %v", res.Op, res.Err)
			}
		}
	}()

	// First use creates the account.
	if err := client.Register(ctx, *username, *password); err != nil {
		log.Fatalf("❌ Register failed: %v", err)
	}
	if err := scr.SignIn(ctx, *username, *password); err != nil {
		log.Fatalf("❌ Sign in failed: %v", err)
	}
	v.notice("✅ Signed in as %s. /help lists commands.", *username)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handle(ctx, scr, v, line); quit {
				return
			}
		}
	}
}

// handle runs one input line. Errors are printed by the results reader.
func handle(ctx context.Context, scr *screen.Screen, v *view, line string) (quit bool) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit":
		return true
	case "/help":
		v.notice("commands: <text> | /img PATH | /del ROW | /avatar PATH | /bg [PATH] | /quit")
	case "/img":
		withFile(v, arg, func(f *os.File) { scr.SendImage(ctx, f) })
	case "/avatar":
		withFile(v, arg, func(f *os.File) { scr.UploadAvatar(ctx, f) })
	case "/bg":
		if arg != "" {
			withFile(v, arg, func(f *os.File) { scr.ChangeBackground(ctx, f) })
			return false
		}
		if data, err := scr.Background(ctx); err == nil {
			v.notice("background: %d bytes", len(data))
		}
	case "/del":
		i, err := strconv.Atoi(arg)
		if err != nil {
			v.notice("usage: /del ROW")
			return false
		}
		req, ok := scr.List().LongPress(i)
		if !ok {
			v.notice("row %d is not one of your messages", i)
			return false
		}
		scr.Delete(ctx, req)
	default:
		if scr.Edit(line) == screen.Attach {
			return false
		}
		if err := scr.Send(ctx); errors.Is(err, context.Canceled) {
			return true
		}
	}
	return false
}

func withFile(v *view, path string, f func(*os.File)) {
	if path == "" {
		v.notice("missing file path")
		return
	}
	fh, err := os.Open(path)
	if err != nil {
		v.notice("⚠️  %v", err)
		return
	}
	defer fh.Close()
	f(fh)
}

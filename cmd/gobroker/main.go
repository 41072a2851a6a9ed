package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tradehound/gobroker/broker/client"
	"github.com/tradehound/gobroker/broker/robinhood"
	"github.com/tradehound/gobroker/broker/types"
	"github.com/tradehound/gobroker/pkg/config"
	"github.com/tradehound/gobroker/pkg/logger"
	"github.com/tradehound/gobroker/pkg/ratelimit"
	"github.com/tradehound/gobroker/pkg/shutdown"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "config file path")
		username   = flag.String("username", os.Getenv("GOBROKER_USERNAME"), "account username")
		symbols    = flag.String("symbols", "AAPL,MSFT", "comma-separated symbols to watch")
		watch      = flag.Duration("watch", 0, "re-fetch quotes at this interval (0: fetch once)")
		logLevel   = flag.String("log-level", "info", "debug, info, warn, error")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if err := logger.Init(logger.Config{Level: *logLevel}); err != nil {
		fatal(err)
	}

	if *username == "" {
		fatal(fmt.Errorf("username is required: pass -username or set GOBROKER_USERNAME"))
	}
	password := os.Getenv("GOBROKER_PASSWORD")

	rh := robinhood.New(robinhood.Options{
		Config:  cfg,
		Limiter: ratelimit.NewTokenBucket(10, 5),
	})
	rh.OnChallenge(promptChallenge)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := rh.Login(ctx, types.Credentials{Username: *username, Password: password})
	if err != nil {
		fatal(err)
	}
	fmt.Printf("logged in, session expires %s\n", sess.ExpiresAt.Format(time.RFC3339))

	mgr := shutdown.NewManager()
	mgr.OnShutdown(func(ctx context.Context) {
		if err := rh.Logout(ctx); err != nil {
			logger.WithError(err).Warn("logout failed")
		}
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	list := strings.Split(*symbols, ",")
	printQuotes(ctx, rh, list)

	if *watch > 0 {
		ticker := time.NewTicker(*watch)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ticker.C:
				printQuotes(ctx, rh, list)
			case <-sigs:
				break loop
			}
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	mgr.Shutdown(shutdownCtx)
}

func printQuotes(ctx context.Context, rh *robinhood.Client, symbols []string) {
	quotes, err := rh.GetQuotes(ctx, symbols...)
	if err != nil {
		logger.WithError(err).Error("fetch quotes failed")
		return
	}
	for _, q := range quotes {
		fmt.Printf("%-6s last=%-10s bid=%-10s ask=%-10s\n",
			q.Symbol, q.LastTradePrice, q.BidPrice, q.AskPrice)
	}
}

// promptChallenge reads the verification code from the terminal.
func promptChallenge(ctx context.Context, ch client.Challenge) (string, error) {
	if ch.Type == "mfa" {
		fmt.Print("enter MFA code: ")
	} else {
		fmt.Printf("enter verification code (%d attempts left): ", ch.RemainingAttempts)
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

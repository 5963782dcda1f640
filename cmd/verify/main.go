package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"dualdex-bot/internal/config"
	"dualdex-bot/internal/hedger"
	"dualdex-bot/internal/logging"
	"dualdex-bot/internal/retry"
	"dualdex-bot/internal/venue"
	"dualdex-bot/internal/venue/lighter"
	"dualdex-bot/internal/venue/pacifica"
)

const runTimeout = 5 * time.Minute

// verify inspects both venues for open positions and, unless -dry-run
// is set, flattens whatever it finds. Useful after an unhedged halt.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	dryRun := flag.Bool("dry-run", false, "print positions without closing them")
	pairsFlag := flag.String("pairs", "", "comma-separated symbols to check (defaults to config pairs)")
	flag.Parse()

	if err := config.LoadEnv(config.EnvFilePath(".env")); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	lighterKey := strings.TrimSpace(os.Getenv("LIGHTER_API_KEY_PRIVATE_KEY"))
	if lighterKey == "" {
		fatal(errors.New("LIGHTER_API_KEY_PRIVATE_KEY is required"))
	}
	pacificaKey := strings.TrimSpace(os.Getenv("PACIFICA_PRIVATE_KEY"))
	if pacificaKey == "" {
		fatal(errors.New("PACIFICA_PRIVATE_KEY is required"))
	}

	lighterClient, err := lighter.New(cfg.Lighter, lighterKey, cfg.Trading.Slippage, log)
	if err != nil {
		fatal(err)
	}
	pacificaClient, err := pacifica.New(cfg.Pacifica, pacificaKey, cfg.Trading.Slippage, nil, log)
	if err != nil {
		fatal(err)
	}
	clients := []venue.Client{lighterClient, pacificaClient}

	pairs := cfg.Trading.Pairs
	if *pairsFlag != "" {
		pairs = nil
		for _, p := range strings.Split(*pairsFlag, ",") {
			if p = strings.TrimSpace(p); p != "" {
				pairs = append(pairs, p)
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	open := 0
	for _, client := range clients {
		for _, symbol := range pairs {
			pos, err := client.Position(ctx, symbol)
			if err != nil {
				fatal(fmt.Errorf("%s %s: %w", client.Name(), symbol, err))
			}
			if pos.Size == 0 {
				continue
			}
			open++
			fmt.Printf("%s %s: size=%.8f entry=%.4f\n", client.Name(), symbol, pos.Size, pos.EntryPrice)
		}
	}
	if open == 0 {
		fmt.Println("no open positions")
		return
	}
	if *dryRun {
		fmt.Printf("%d open position(s), not closing (dry run)\n", open)
		return
	}

	policy := retry.FromConfig(cfg.Retry)
	verifier := hedger.NewVerifier(policy, cfg.Verify.Interval, cfg.Verify.Attempts, cfg.Verify.Timeout, log)
	closer := hedger.NewCloser(clients, policy, verifier, nil, nil, log)
	if err := closer.CloseAll(ctx, pairs); err != nil {
		fatal(err)
	}
	fmt.Printf("closed %d position(s), both venues flat\n", open)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

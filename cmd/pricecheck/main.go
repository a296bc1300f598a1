package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ud-ai/InvestmentTracker/internal/infra"
	"github.com/ud-ai/InvestmentTracker/internal/infra/coingecko"
)

// pricecheck queries the configured market-data API once and prints the
// prices it returns, the same batched request the watchlist refresh sends.
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	ids := flag.String("ids", "bitcoin,ethereum,solana", "comma-separated asset ids")
	top := flag.Int("top", 0, "also list the top N markets by market cap")
	flag.Parse()

	if *configPath == "" {
		*configPath = infra.ResolveConfigPath()
	}
	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ config: %v\n", err)
		os.Exit(1)
	}

	client := coingecko.NewClientFromConfig(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	vs := cfg.MarketData.VsCurrency
	fmt.Printf("=== Market data check: %s (%s) ===\n\n", cfg.MarketData.BaseURL, strings.ToUpper(vs))

	keys := splitIDs(*ids)
	prices, err := client.GetPrice(ctx, keys, vs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ simple/price: %v\n", err)
		os.Exit(1)
	}
	for _, id := range keys {
		p, ok := prices.Price(id, vs)
		if !ok {
			fmt.Printf("   %-16s (no price)\n", id)
			continue
		}
		fmt.Printf("📊 %-16s %s\n", id, decimal.NewFromFloat(p).StringFixed(2))
	}

	if *top > 0 {
		fmt.Println()
		assets, err := client.GetCoinMarkets(ctx, vs, *top, coingecko.OrderMarketCapDesc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ coins/markets: %v\n", err)
			os.Exit(1)
		}
		for i, a := range assets {
			fmt.Printf("%3d. %-6s %-20s %s\n", i+1, strings.ToUpper(a.Symbol), a.Name,
				decimal.NewFromFloat(a.CurrentPrice(vs)).StringFixed(2))
		}
	}

	fmt.Println()
	fmt.Printf("✅ breaker state: %s\n", client.BreakerState())
}

func splitIDs(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

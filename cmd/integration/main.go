// Command integration exercises a live Client-Portal gateway end to end:
// session auth, contract resolution, strike discovery, same-day contract
// metadata, and quote snapshots. It never places orders. Run it against a
// local gateway before pointing the streaming server at one.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/calloway-trading/strikestream/internal/broker"
	"github.com/calloway-trading/strikestream/internal/config"
	"github.com/calloway-trading/strikestream/internal/models"
)

func main() {
	var (
		configPath string
		ticker     string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&ticker, "ticker", "SPY", "Underlying ticker to probe")
	flag.Parse()

	fmt.Println("=== strikestream gateway smoke check ===")
	fmt.Println()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[SMOKE] ", log.LstdFlags)
	client := broker.NewAPI(cfg.Broker.BaseURL, cfg.Broker.Insecure,
		broker.WithLogger(logger))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	failures := 0
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			failures++
			fmt.Printf("FAIL  %-28s %v\n", name, err)
			return
		}
		fmt.Printf("ok    %s\n", name)
	}

	step("auth status", func() error {
		status, err := client.AuthStatus(ctx)
		if err != nil {
			return err
		}
		if !status.Authenticated {
			return fmt.Errorf("gateway session not authenticated, log in to the gateway first")
		}
		return nil
	})

	step("brokerage accounts", func() error {
		accounts, err := client.BrokerageAccounts(ctx)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			return fmt.Errorf("no accounts returned")
		}
		logger.Printf("account: %s", accounts[0])
		return nil
	})

	var conid, month string
	step("contract search", func() error {
		results, err := client.SearchContracts(ctx, ticker)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return fmt.Errorf("no contracts for %s", ticker)
		}
		conid = results[0].ConID
		month = results[0].OptionMonth()
		if month == "" {
			return fmt.Errorf("%s has no option months", ticker)
		}
		logger.Printf("conid=%s month=%s", conid, month)
		return nil
	})

	var spot float64
	step("underlying last price", func() error {
		price, err := client.LastDayPrice(ctx, conid)
		if err != nil {
			return err
		}
		spot = price
		logger.Printf("spot=%.2f", spot)
		return nil
	})

	var window models.StrikeWindow
	step("strike window", func() error {
		strikes, err := client.FetchStrikes(ctx, conid, month)
		if err != nil {
			return err
		}
		window = models.SelectStrikes(strikes.Call, strikes.Put, spot, 3)
		if len(window.Calls) == 0 && len(window.Puts) == 0 {
			return fmt.Errorf("empty strike window around %.2f", spot)
		}
		logger.Printf("calls=%v puts=%v", window.Calls, window.Puts)
		return nil
	})

	step("same-day contract metadata", func() error {
		if len(window.Calls) == 0 {
			return fmt.Errorf("no call strikes to probe")
		}
		details, err := client.ContractInfo(ctx, conid, window.Calls[0], "C", month)
		if err != nil {
			return err
		}
		today := time.Now().UTC().Format(models.MaturityLayout)
		for _, d := range details {
			if d.MaturityDate == today {
				logger.Printf("same-day option conid=%s", d.ConID.String())
				return nil
			}
		}
		// Not an error off-cycle: there simply is no same-day expiry.
		logger.Printf("no same-day expiry among %d records (maturity filter would skip)", len(details))
		return nil
	})

	step("quote snapshot", func() error {
		fields, err := client.QuoteSnapshot(ctx, conid)
		if err != nil {
			return err
		}
		logger.Printf("last=%.2f bid=%.2f ask=%.2f", fields.Last, fields.Bid, fields.Ask)
		return nil
	})

	fmt.Println()
	if failures > 0 {
		fmt.Printf("=== %d step(s) failed ===\n", failures)
		os.Exit(1)
	}
	fmt.Println("=== all steps passed ===")
}

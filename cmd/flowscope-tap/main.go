// flowscope-tap subscribes to a running flowscope instance and prints the
// live classified trade stream to the console.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"flowscope/internal/flow"
)

func main() {
	url := "ws://localhost:8080/ws/flow"
	if u := os.Getenv("FLOWSCOPE_WS"); u != "" {
		url = u
	}

	// Optional filters: FLOWSCOPE_TYPES="SWEEP,BLOCK" and a minimum premium.
	typeFilter := parseTypeFilter(os.Getenv("FLOWSCOPE_TYPES"))
	var minPremium float64
	if v := os.Getenv("FLOWSCOPE_MIN_PREMIUM"); v != "" {
		fmt.Sscanf(v, "%f", &minPremium)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connecting to %s: %v\n", url, err)
		os.Exit(1)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	fmt.Printf("connected to %s\n", url)
	fmt.Printf("%-8s %-24s %-5s %8s %6s %10s %-9s %-5s %3s %-7s %s\n",
		"TIME", "CONTRACT", "TYPE", "PRICE", "SIZE", "PREMIUM", "LEVEL", "DIR", "PRI", "URGENCY", "DETAIL")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("\nshutdown")
				return
			}
			fmt.Fprintf(os.Stderr, "stream closed: %v\n", err)
			os.Exit(1)
		}

		var ct flow.ClassifiedTrade
		if err := json.Unmarshal(data, &ct); err != nil {
			continue
		}
		if len(typeFilter) > 0 {
			if _, ok := typeFilter[ct.Type]; !ok {
				continue
			}
		}
		if ct.Premium < minPremium {
			continue
		}
		printTrade(&ct)
	}
}

func parseTypeFilter(s string) map[flow.TradeType]struct{} {
	if s == "" {
		return nil
	}
	out := make(map[flow.TradeType]struct{})
	for _, part := range strings.Split(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out[flow.TradeType(part)] = struct{}{}
		}
	}
	return out
}

func printTrade(ct *flow.ClassifiedTrade) {
	detail := ""
	switch ct.Type {
	case flow.TypeSweep:
		detail = fmt.Sprintf("%dx across %d venues [%s]",
			ct.SweepSize, ct.SweepExchangeCount, strings.Join(ct.SweepExchanges, " "))
	case flow.TypeBlock:
		detail = string(ct.BlockReason)
	}
	if ct.SpotPrice > 0 {
		detail += fmt.Sprintf(" spot=%.2f otm=%+.1f%%", ct.SpotPrice, ct.PercentOTM*100)
	}

	fmt.Printf("%-8s %-24s %-5s %8.2f %6d %10s %-9s %-5s %3d %-7s %s\n",
		time.UnixMilli(ct.Timestamp).Format("15:04:05"),
		ct.Symbol,
		ct.Type,
		ct.Price,
		ct.Size,
		formatPremium(ct.Premium),
		ct.ExecutionLevel,
		shortDirection(ct.Direction),
		ct.Priority,
		ct.Urgency.Level,
		detail,
	)
}

func shortDirection(d flow.Direction) string {
	switch d {
	case flow.Bullish:
		return "BULL"
	case flow.Bearish:
		return "BEAR"
	default:
		return "NEUT"
	}
}

func formatPremium(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("$%.1fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("$%.1fK", v/1e3)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}

// Command gate-scanner reads decoded QR text from a scanning device on stdin,
// one code per line, and shows the check-in result for each.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()

	server := flag.StringP("server", "s", envOr("CHECKIN_URL", "http://localhost:8085"), "check-in service base URL")
	token := flag.StringP("token", "t", os.Getenv("CHECKIN_TOKEN"), "staff bearer token")
	eventID := flag.StringP("event", "e", "", "event staffed at this gate")
	gateID := flag.StringP("gate", "g", "", "gate name, e.g. \"Main Entrance\"")
	timeout := flag.Duration("timeout", 5*time.Second, "per-scan request timeout")
	noColor := flag.Bool("no-color", false, "disable colored output")
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}
	if *token == "" || *eventID == "" || *gateID == "" {
		fmt.Fprintln(os.Stderr, "gate-scanner: --token, --event and --gate are required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &Scanner{
		BaseURL: *server,
		Token:   *token,
		EventID: *eventID,
		GateID:  *gateID,
		Client:  &http.Client{Timeout: *timeout},
	}
	color.New(color.FgCyan).Fprintf(os.Stdout, "Scanning for event %s at gate %s. Ctrl-D to finish.\n", *eventID, *gateID)
	if err := s.Run(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gate-scanner: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"

	"ms-checkin/internal/checkin"
	"ms-checkin/internal/models"
	"ms-checkin/internal/session"
)

// errUnavailable means the registry could not be reached; the scan was not
// classified and should be retried.
var errUnavailable = errors.New("check-in system unavailable")

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type scanResult struct {
	checkin.Decision
	Session session.Counters `json:"session"`
}

// Scanner posts decoded QR text to the check-in API on behalf of one gate.
type Scanner struct {
	BaseURL string
	Token   string
	EventID string
	GateID  string
	Client  *http.Client
}

func (s *Scanner) Scan(ctx context.Context, code string) (scanResult, error) {
	body, err := json.Marshal(checkin.ScanRequest{Code: code, EventID: s.EventID, GateID: s.GateID})
	if err != nil {
		return scanResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.BaseURL, "/")+"/api/checkin/scan", bytes.NewReader(body))
	if err != nil {
		return scanResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Token)

	resp, err := s.Client.Do(req)
	if err != nil {
		return scanResult{}, fmt.Errorf("%w: %v", errUnavailable, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return scanResult{}, fmt.Errorf("unreadable response (HTTP %d): %w", resp.StatusCode, err)
	}
	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return scanResult{}, errUnavailable
	case resp.StatusCode != http.StatusOK:
		return scanResult{}, fmt.Errorf("scan rejected (HTTP %d): %s", resp.StatusCode, env.Message)
	}

	var result scanResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return scanResult{}, fmt.Errorf("unreadable scan result: %w", err)
	}
	return result, nil
}

// Run scans every non-empty line of in until EOF or ctx is done. Scan
// failures are printed and do not stop the loop.
func (s *Scanner) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := bufio.NewScanner(in)
	for lines.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		code := strings.TrimSpace(lines.Text())
		if code == "" {
			continue
		}
		result, err := s.Scan(ctx, code)
		if err != nil {
			printFailure(out, err)
			continue
		}
		printResult(out, result)
	}
	return lines.Err()
}

var (
	validColor     = color.New(color.FgGreen, color.Bold)
	invalidColor   = color.New(color.FgRed, color.Bold)
	duplicateColor = color.New(color.FgYellow, color.Bold)
	revokedColor   = color.New(color.FgMagenta, color.Bold)
	mutedColor     = color.New(color.FgHiBlack)
)

func printResult(out io.Writer, r scanResult) {
	switch r.Classification {
	case models.ClassValid:
		validColor.Fprintf(out, "✔ VALID      %s\n", r.Message)
		if r.Ticket != nil && r.Ticket.Seat != "" {
			mutedColor.Fprintf(out, "  seat %s\n", r.Ticket.Seat)
		}
	case models.ClassDuplicate:
		duplicateColor.Fprintf(out, "⚠ DUPLICATE  %s\n", r.Message)
		if r.Prior != nil {
			mutedColor.Fprintf(out, "  first admitted %s at gate %s by %s\n",
				r.Prior.ScannedAt.Local().Format(time.Kitchen), r.Prior.GateID, r.Prior.StaffID)
		}
	case models.ClassRevoked:
		revokedColor.Fprintf(out, "⊘ REVOKED    %s\n", r.Message)
	default:
		invalidColor.Fprintf(out, "✘ INVALID    %s\n", r.Message)
		if r.Reason != "" {
			mutedColor.Fprintf(out, "  reason: %s\n", r.Reason)
		}
	}
	mutedColor.Fprintf(out, "  session: %d valid, %d issues, %d total\n", r.Session.Valid, r.Session.Issues(), r.Session.Total)
}

func printFailure(out io.Writer, err error) {
	if errors.Is(err, errUnavailable) {
		duplicateColor.Fprintf(out, "… NOT SCANNED  %v, scan again\n", err)
		return
	}
	invalidColor.Fprintf(out, "! ERROR      %v\n", err)
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/orderdeck/orderdeck/internal/events"
	"github.com/orderdeck/orderdeck/internal/ui"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the live event stream for a tenant",
	Long: `Follow the live event stream for a tenant.

With --since, previously stored events newer than the checkpoint are replayed
before live streaming begins. On disconnect, tail reconnects with the last
received event time as its checkpoint, so no stored event is skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		once, _ := cmd.Flags().GetBool("once")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		checkpoint := since
		for {
			lastSeen, err := streamOnce(ctx, checkpoint)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "stream error: %v\n", err)
			}
			if once {
				return err
			}
			if !lastSeen.IsZero() {
				checkpoint = lastSeen.UTC().Format(time.RFC3339)
			}
			// Brief pause before reconnecting with the checkpoint.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
		}
	},
}

// streamOnce runs a single stream connection until it ends, printing each
// message. Returns the timestamp of the last event seen, for reconnection.
func streamOnce(ctx context.Context, since string) (time.Time, error) {
	u := serverURL + "/v1/stream"
	if since != "" {
		u += "?since=" + url.QueryEscape(since)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return time.Time{}, err
	}
	setIdentityHeaders(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("server returned %s", resp.Status)
	}

	var lastSeen time.Time
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		// Keep-alive comment frames and id lines carry no payload.
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		if ts, ok := printMessage(strings.TrimPrefix(line, "data:")); ok {
			lastSeen = ts
		}
	}
	return lastSeen, scanner.Err()
}

// printMessage renders one wire message and returns its timestamp when it is
// an event frame.
func printMessage(raw string) (time.Time, bool) {
	var msg struct {
		Type      string          `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp int64           `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		fmt.Println(raw)
		return time.Time{}, false
	}

	if msg.Type == "connection" {
		fmt.Printf("%s %s\n", ui.RenderMuted(time.Now().Format("15:04:05")), ui.RenderMuted("connected"))
		return time.Time{}, false
	}

	ts := time.UnixMilli(msg.Timestamp)
	typeLabel := ui.RenderAccent(msg.Type)
	switch msg.Type {
	case events.ChannelKitchenNotice, events.ChannelTenantNotice:
		typeLabel = ui.RenderAlert(msg.Type)
	}
	fmt.Printf("%s %s %s\n", ui.RenderMuted(ts.Format("15:04:05")), typeLabel, msg.Data)
	return ts, true
}

func init() {
	tailCmd.Flags().String("since", "", `catchup checkpoint: RFC 3339 time, unix millis, or "undelivered"`)
	tailCmd.Flags().Bool("once", false, "exit when the stream closes instead of reconnecting")
}

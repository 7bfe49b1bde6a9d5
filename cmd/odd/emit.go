package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var emitCmd = &cobra.Command{
	Use:   "emit <event-type>",
	Short: "Publish an event through the server's write API",
	Long: `Publish an event through the server's write API.

The payload is given with --data as a JSON object, e.g.:

  odd emit order.status_changed --tenant t1 \
      --data '{"order_id":"o-42","old_status":"open","new_status":"ready"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		if data == "" {
			data = "{}"
		}
		if !json.Valid([]byte(data)) {
			return fmt.Errorf("--data must be valid JSON")
		}

		body, err := json.Marshal(map[string]json.RawMessage{
			"type":      json.RawMessage(fmt.Sprintf("%q", args[0])),
			"tenant_id": json.RawMessage(fmt.Sprintf("%q", tenantID)),
			"data":      json.RawMessage(data),
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, serverURL+"/v1/events", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		setIdentityHeaders(req)

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(respBody))
		}

		var out struct {
			EventID string `json:"event_id"`
		}
		if err := json.Unmarshal(respBody, &out); err != nil {
			return err
		}
		fmt.Println(out.EventID)
		return nil
	},
}

// setIdentityHeaders attaches the auth token and identity headers shared by
// every client command.
func setIdentityHeaders(req *http.Request) {
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	if tenantID != "" {
		req.Header.Set("X-Odd-Tenant", tenantID)
	}
	if callerID != "" {
		req.Header.Set("X-Odd-Caller", callerID)
	}
	if role != "" {
		req.Header.Set("X-Odd-Role", role)
	}
}

func init() {
	emitCmd.Flags().String("data", "{}", "event payload as a JSON object")
}

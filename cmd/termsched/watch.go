package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var watchOpts struct {
	server      string
	token       string
	operationID string
	events      []string
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream operation events from a running server over WebSocket",
	RunE:  runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringVar(&watchOpts.server, "server", "http://localhost:8080", "server base URL")
	f.StringVar(&watchOpts.token, "token", "", "bearer token (dev mode: user:role)")
	f.StringVar(&watchOpts.operationID, "operation", "", "only events for this operation id")
	f.StringSliceVar(&watchOpts.events, "events", nil, "event types to receive (default all)")
}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	u, err := url.Parse(watchOpts.server)
	if err != nil {
		return fmt.Errorf("--server: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/events/ws"

	hdr := http.Header{}
	if watchOpts.token != "" {
		hdr.Set("Authorization", "Bearer "+watchOpts.token)
	}
	c, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), u.String(), hdr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]any{"operationId": watchOpts.operationID, "events": watchOpts.events})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: payload}); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for {
		var m wsMessage
		if err := c.ReadJSON(&m); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		switch m.Type {
		case "ping":
			_ = c.WriteJSON(wsMessage{Type: "pong"})
		case "next":
			fmt.Fprintln(out, string(m.Payload))
		case "error":
			return fmt.Errorf("server error: %s", m.Payload)
		case "complete":
			return nil
		}
	}
}

package client

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rzbill/durq/internal/cmd/client/transports"
	httpserver "github.com/rzbill/durq/internal/server/http"
	"github.com/rzbill/durq/pkg/queue"
	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// BaseURLFromEnv returns DURQ_HTTP or the local default.
func BaseURLFromEnv() string {
	if v := os.Getenv("DURQ_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

// transportFor builds the transport for cmd, honouring --server. A grpc://
// URL selects the gRPC transport; anything else is treated as an HTTP base URL.
func transportFor(cmd *cobra.Command, baseURL BaseURLFunc) (transports.QueueTransport, error) {
	url, _ := cmd.Flags().GetString("server")
	if url == "" {
		url = baseURL()
	}
	if addr, ok := strings.CutPrefix(url, "grpc://"); ok {
		return transports.NewGRPCTransport(addr)
	}
	return transports.NewHTTPTransport(url, nil), nil
}

// decodedMessage returns a readable view of msg with one of payload_json,
// payload_text or payload_b64.
func decodedMessage(msg *queue.Message) map[string]any {
	out := map[string]any{
		"id":           msg.ID,
		"num_requeues": msg.NumRequeues,
	}
	if !msg.OriginalTimestamp.IsZero() {
		out["org_ts"] = msg.OriginalTimestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	if !msg.Timestamp.IsZero() {
		out["ts"] = msg.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	payload := msg.Payload
	if len(payload) > 0 && (payload[0] == '{' || payload[0] == '[') {
		var v any
		if json.Unmarshal(payload, &v) == nil {
			out["payload_json"] = v
			return out
		}
	}
	if utf8.Valid(payload) {
		out["payload_text"] = string(payload)
		return out
	}
	out["payload_b64"] = base64.StdEncoding.EncodeToString(payload)
	return out
}

// printMessage writes msg in the API layout, or the readable view when
// pretty is set. The API layout can be fed back to finish and requeue.
func printMessage(w io.Writer, msg *queue.Message, pretty bool) error {
	if pretty {
		b, err := json.MarshalIndent(decodedMessage(msg), "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	raw, err := httpserver.EncodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}

// readMessage parses --message, reading stdin when it is "-".
func readMessage(cmd *cobra.Command) (*queue.Message, error) {
	v, _ := cmd.Flags().GetString("message")
	if v == "" {
		return nil, fmt.Errorf("--message is required")
	}
	if v == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		v = string(b)
	}
	return httpserver.DecodeMessage(json.RawMessage(strings.TrimSpace(v)))
}

// Package ytdlp is a thin client for the external downloader fleet's
// health sidecar, grounded on thumbnailer/client.go's per-request
// WebSocket dial against the overseer v2 protocol. It is consulted only
// for health/diagnostics — actual downloads are dispatched to workers
// through the Queue Coordinator, not through this client.
package ytdlp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// PoolInfo is a point-in-time snapshot of the downloader fleet's worker
// pool.
type PoolInfo struct {
	Limit      int `json:"limit"`
	Running    int `json:"running"`
	QueueDepth int `json:"queue_depth"`
}

// Metrics holds aggregate counters exposed by the downloader fleet.
type Metrics struct {
	DownloadsStarted   int64 `json:"downloads_started"`
	DownloadsCompleted int64 `json:"downloads_completed"`
	DownloadsErrored   int64 `json:"downloads_errored"`
}

// Client dials the downloader fleet's diagnostics endpoint per request;
// it holds no persistent connection.
type Client struct {
	wsURL string
	idSeq atomic.Int64
}

// NewClient returns a Client targeting the given WebSocket URL (e.g.
// "ws://ytdlp:8080/ws").
func NewClient(wsURL string) *Client {
	return &Client{wsURL: strings.TrimRight(wsURL, "/")}
}

func (c *Client) nextID() string {
	return fmt.Sprintf("r%d", c.idSeq.Add(1))
}

// GetPoolInfo reports the fleet's worker pool occupancy, degrading to a
// nil result on any failure to reach the service.
func (c *Client) GetPoolInfo(ctx context.Context) (*PoolInfo, error) {
	var pi PoolInfo
	if err := c.roundTrip(ctx, "pool_info", &pi); err != nil {
		return nil, nil
	}
	return &pi, nil
}

// GetMetrics reports the fleet's aggregate counters, degrading the same
// way as GetPoolInfo on any failure.
func (c *Client) GetMetrics(ctx context.Context) (*Metrics, error) {
	var m Metrics
	if err := c.roundTrip(ctx, "metrics", &m); err != nil {
		return nil, nil
	}
	return &m, nil
}

func (c *Client) roundTrip(ctx context.Context, msgType string, out any) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	reqID := c.nextID()
	req, _ := json.Marshal(map[string]any{"type": msgType, "id": reqID})
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg struct {
			Type string          `json:"type"`
			ID   string          `json:"id"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.ID != reqID {
			continue
		}
		return json.Unmarshal(msg.Data, out)
	}
}

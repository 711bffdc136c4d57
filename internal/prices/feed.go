package prices

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Feed subscribes to an exchange trade stream over websocket and pushes
// mid-price samples into the store. The feed reconnects forever until
// its context is cancelled; a dropped connection only pauses ingestion.
type Feed struct {
	url           string
	symbols       []string
	store         *Store
	reconnectWait time.Duration
}

// tick is the wire shape of one trade message.
type tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TsMs   int64   `json:"ts"`
}

// subscribeMsg is sent once per connection.
type subscribeMsg struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// NewFeed creates a feed for the given stream URL and symbols.
func NewFeed(url string, symbols []string, store *Store, reconnectWait time.Duration) *Feed {
	if reconnectWait <= 0 {
		reconnectWait = 5 * time.Second
	}
	return &Feed{url: url, symbols: symbols, store: store, reconnectWait: reconnectWait}
}

// Run ingests until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	for {
		if err := f.connectAndRead(ctx); err != nil {
			log.Warn().Err(err).Str("url", f.url).Msg("price feed disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.reconnectWait):
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMsg{Op: "subscribe", Symbols: f.symbols}); err != nil {
		return err
	}
	log.Info().Str("url", f.url).Strs("symbols", f.symbols).Msg("price feed connected")

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var t tick
		if err := json.Unmarshal(payload, &t); err != nil || t.Symbol == "" || t.Price <= 0 {
			// Malformed messages are skipped record-by-record.
			continue
		}

		at := time.UnixMilli(t.TsMs)
		if t.TsMs == 0 {
			at = time.Now()
		}
		f.store.Append(ctx, Sample{Symbol: t.Symbol, At: at, Mid: t.Price})
	}
}

package feeds

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE TICK FEED - CLOB websocket adapter
// ═══════════════════════════════════════════════════════════════════════════════
//
// Thin boundary collaborator: connects to the CLOB market channel, turns
// book updates into Tick values and fans them out to subscribers. The
// decision core never talks to the socket directly.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	DefaultWSURL   = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	reconnectDelay = 5 * time.Second
	pingInterval   = 30 * time.Second
)

// Tick is one mark-price update for a market.
type Tick struct {
	MarketID  string
	Price     decimal.Decimal
	Timestamp time.Time
}

// TickFeed manages the websocket connection and tick distribution.
type TickFeed struct {
	mu sync.RWMutex

	wsURL       string
	conn        *websocket.Conn
	running     bool
	stopCh      chan struct{}
	subscribers []chan Tick
	markets     map[string]bool // asset ids to subscribe
}

func NewTickFeed(wsURL string) *TickFeed {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &TickFeed{
		wsURL:   wsURL,
		stopCh:  make(chan struct{}),
		markets: make(map[string]bool),
	}
}

// Subscribe returns a channel of ticks. Slow consumers drop ticks rather
// than stalling the feed.
func (f *TickFeed) Subscribe() <-chan Tick {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan Tick, 256)
	f.subscribers = append(f.subscribers, ch)
	return ch
}

// Watch adds a market to the subscription set.
func (f *TickFeed) Watch(marketID string) {
	f.mu.Lock()
	f.markets[marketID] = true
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		f.sendSubscribe(conn, []string{marketID})
	}
}

// Start runs the connect/read loop until Stop.
func (f *TickFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.loop()
	log.Info().Str("url", f.wsURL).Msg("📡 Tick feed started")
}

// Stop terminates the feed.
func (f *TickFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
}

func (f *TickFeed) loop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}
		if err := f.connectAndRead(); err != nil {
			log.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("Tick feed disconnected")
		}
		select {
		case <-f.stopCh:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *TickFeed) connectAndRead() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.mu.Lock()
	f.conn = conn
	ids := make([]string, 0, len(f.markets))
	for id := range f.markets {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	if len(ids) > 0 {
		f.sendSubscribe(conn, ids)
	}

	// Keepalive pings.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(data)
	}
}

func (f *TickFeed) sendSubscribe(conn *websocket.Conn, ids []string) {
	msg := map[string]any{"type": "market", "assets_ids": ids}
	if err := conn.WriteJSON(msg); err != nil {
		log.Warn().Err(err).Msg("Tick feed subscribe failed")
	}
}

type bookMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Bids      []struct {
		Price string `json:"price"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

func (f *TickFeed) handleMessage(data []byte) {
	var msgs []bookMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		var single bookMessage
		if err := json.Unmarshal(data, &single); err != nil {
			return
		}
		msgs = []bookMessage{single}
	}

	for _, msg := range msgs {
		price, ok := markPrice(msg)
		if !ok {
			continue
		}
		tick := Tick{
			MarketID:  msg.Market,
			Price:     price,
			Timestamp: time.Now(),
		}
		f.fanout(tick)
	}
}

// markPrice derives a mid from the book, or the trade price directly.
func markPrice(msg bookMessage) (decimal.Decimal, bool) {
	if msg.Price != "" {
		if p, err := decimal.NewFromString(msg.Price); err == nil {
			return p, true
		}
	}
	if len(msg.Bids) > 0 && len(msg.Asks) > 0 {
		bid, err1 := decimal.NewFromString(msg.Bids[len(msg.Bids)-1].Price)
		ask, err2 := decimal.NewFromString(msg.Asks[len(msg.Asks)-1].Price)
		if err1 == nil && err2 == nil {
			return bid.Add(ask).Div(decimal.NewFromInt(2)), true
		}
	}
	return decimal.Zero, false
}

func (f *TickFeed) fanout(tick Tick) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- tick:
		default: // drop rather than stall
		}
	}
}

package service

import (
	"sort"
	"strings"

	"github.com/bytedance/sonic"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
)

const (
	spotStreamURL           = "wss://stream.binance.com:9443/stream"
	spotTestnetStreamURL    = "wss://stream.testnet.binance.vision/stream"
	futuresStreamURL        = "wss://fstream.binance.com/stream"
	futuresTestnetStreamURL = "wss://stream.binancefuture.com/stream"
)

// miniTicker — combined stream, подписка через URL, без сообщений subscribe.
type miniTicker struct {
	url string
}

type combinedEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		Event     string `json:"e"`
		EventTime int64  `json:"E"` // без точного ключа sonic кладёт "E" в Event
		Symbol    string `json:"s"`
		Close     string `json:"c"`
	} `json:"data"`
}

func (m miniTicker) StreamURL(tickers []string) string {
	streams := make([]string, 0, len(tickers))
	for _, t := range tickers {
		streams = append(streams, strings.ToLower(Symbol(t))+"@miniTicker")
	}
	sort.Strings(streams)
	return m.url + "?streams=" + strings.Join(streams, "/")
}

func (m miniTicker) SubscribeMessages([]string) [][]byte { return nil }

func (m miniTicker) ParseTick(msg []byte) ([]exchange.Tick, bool) {
	var ev combinedEvent
	if err := sonic.Unmarshal(msg, &ev); err != nil {
		return nil, false
	}
	if ev.Data.Event != "24hrMiniTicker" || ev.Data.Symbol == "" {
		return nil, false
	}
	px := helper.ParseFloat(ev.Data.Close)
	if px <= 0 {
		return nil, false
	}
	return []exchange.Tick{{Ticker: Ticker(ev.Data.Symbol), Price: px}}, true
}

func spotStream(testnet bool) miniTicker {
	if testnet {
		return miniTicker{url: spotTestnetStreamURL}
	}
	return miniTicker{url: spotStreamURL}
}

func futuresStream(testnet bool) miniTicker {
	if testnet {
		return miniTicker{url: futuresTestnetStreamURL}
	}
	return miniTicker{url: futuresStreamURL}
}

package service

import (
	"github.com/bytedance/sonic"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
	"signal_trader/internal/models"
)

const (
	publicWS     = "wss://ws.okx.com:8443/ws/v5/public"
	demoPublicWS = "wss://wspap.okx.com:8443/ws/v5/public"

	subscribeBatch = 20
)

// tickers — публичный канал tickers, подписка сообщениями после коннекта.
type tickers struct {
	url    string
	market models.MarketType
}

func newTickers(demo bool, market models.MarketType) tickers {
	if demo {
		return tickers{url: demoPublicWS, market: market}
	}
	return tickers{url: publicWS, market: market}
}

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type wsPush struct {
	Event string `json:"event"`
	Arg   wsArg  `json:"arg"`
	Data  []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
	} `json:"data"`
}

func (t tickers) StreamURL([]string) string { return t.url }

func (t tickers) SubscribeMessages(list []string) [][]byte {
	var out [][]byte
	for i := 0; i < len(list); i += subscribeBatch {
		end := min(i+subscribeBatch, len(list))
		args := make([]wsArg, 0, end-i)
		for _, tk := range list[i:end] {
			args = append(args, wsArg{Channel: "tickers", InstID: InstID(tk, t.market)})
		}
		b, err := sonic.Marshal(map[string]any{"op": "subscribe", "args": args})
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

// PingMessage — OKX ждёт текстовый "ping", а не ws control frame.
func (t tickers) PingMessage() []byte { return []byte("ping") }

func (t tickers) ParseTick(msg []byte) ([]exchange.Tick, bool) {
	if string(msg) == "pong" {
		return nil, false
	}
	var p wsPush
	if err := sonic.Unmarshal(msg, &p); err != nil {
		return nil, false
	}
	if p.Event != "" || p.Arg.Channel != "tickers" {
		return nil, false
	}
	var out []exchange.Tick
	for _, d := range p.Data {
		if px := helper.ParseFloat(d.Last); px > 0 {
			out = append(out, exchange.Tick{Ticker: TickerOf(d.InstID), Price: px})
		}
	}
	return out, len(out) > 0
}

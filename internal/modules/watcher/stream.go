package watcher

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"signal_trader/internal/exchange"
	"signal_trader/internal/metrics"
	"signal_trader/internal/models"
	"signal_trader/internal/modules/engine"
	"signal_trader/pkg/logger"
)

var errResubscribe = errors.New("symbol set changed")

// stream — ws-цены одной пары (биржа, рынок).
type stream struct {
	w  *Watcher
	ad exchange.Adapter
	ps exchange.PriceStreamer
}

func (s *stream) label() string {
	return "[WS " + strings.ToUpper(s.ad.Name()) + " " + strings.ToUpper(string(s.ad.Market())) + "]"
}

func (s *stream) run(ctx context.Context) {
	key := s.ad.Name() + "/" + string(s.ad.Market())
	defer s.w.setConnected(key, false)

	for {
		trades, tickers, err := s.load(ctx)
		if err != nil {
			logger.Warn("%s load trades: %v", s.label(), err)
		}
		if len(tickers) == 0 {
			if !sleep(ctx, s.w.opts.SymbolRefresh) {
				return
			}
			continue
		}

		err = s.session(ctx, key, trades, tickers)
		s.w.setConnected(key, false)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errResubscribe) {
			continue
		}
		logger.Warn("%s disconnected: %v, reconnect in %s", s.label(), err, s.w.opts.ReconnectDelay)
		metrics.WSReconnects.WithLabelValues(s.ad.Name(), string(s.ad.Market())).Inc()
		if !sleep(ctx, s.w.opts.ReconnectDelay) {
			return
		}
	}
}

func (s *stream) load(ctx context.Context) ([]models.Trade, []string, error) {
	trades, err := s.w.awaitingBreakeven(ctx, s.ad)
	if err != nil {
		return nil, nil, err
	}
	set := map[string]bool{}
	for _, t := range trades {
		set[t.Ticker] = true
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return trades, out, nil
}

// session — одно соединение. Возвращается при ошибке, отмене или смене набора тикеров.
func (s *stream) session(ctx context.Context, key string, trades []models.Trade, tickers []string) error {
	conn, _, err := s.w.dialer.DialContext(ctx, s.ps.StreamURL(tickers), nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer func() { _ = conn.Close() }()

	for _, msg := range s.ps.SubscribeMessages(tickers) {
		if err = conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return errors.Wrap(err, "subscribe")
		}
	}
	s.w.setConnected(key, true)
	logger.Info("%s streaming %s", s.label(), strings.Join(tickers, ","))

	msgs := make(chan []byte, 64)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- msg:
			case <-stop:
				return
			}
		}
	}()

	ping := time.NewTicker(s.w.opts.PingInterval)
	defer ping.Stop()
	refresh := time.NewTicker(s.w.opts.SymbolRefresh)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return ctx.Err()

		case err := <-readErr:
			return errors.Wrap(err, "read")

		case <-ping.C:
			if err := s.ping(conn); err != nil {
				return errors.Wrap(err, "ping")
			}

		case <-refresh.C:
			fresh, next, err := s.load(ctx)
			if err != nil {
				logger.Warn("%s refresh symbols: %v", s.label(), err)
				continue
			}
			if strings.Join(next, ",") != strings.Join(tickers, ",") {
				logger.Info("%s symbol set changed, resubscribing", s.label())
				return errResubscribe
			}
			trades = fresh

		case msg := <-msgs:
			ticks, ok := s.ps.ParseTick(msg)
			if !ok || len(ticks) == 0 {
				continue
			}
			s.w.touch()
			s.onTicks(ctx, trades, ticks)
		}
	}
}

func (s *stream) ping(conn *websocket.Conn) error {
	if p, ok := s.ps.(exchange.Pinger); ok {
		return conn.WriteMessage(websocket.TextMessage, p.PingMessage())
	}
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// onTicks — только проверка безубытка; остальное делает сверка.
// Reconciler перечитывает строку, так что устаревший кэш безопасен.
func (s *stream) onTicks(ctx context.Context, trades []models.Trade, ticks []exchange.Tick) {
	last := make(map[string]float64, len(ticks))
	for _, t := range ticks {
		last[t.Ticker] = t.Price
	}
	for i := range trades {
		t := trades[i]
		px, ok := last[t.Ticker]
		if !ok || !engine.TP1Reached(&t, px) {
			continue
		}
		if err := s.w.recon.Breakeven(ctx, t, s.ad, px); err != nil {
			logger.Warn("%s breakeven %s %s: %v", s.label(), t.Ticker, t.Side, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

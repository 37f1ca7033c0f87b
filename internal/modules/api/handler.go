package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"signal_trader/internal/models"
	"signal_trader/internal/modules/engine"
	"signal_trader/internal/modules/exchange_sync"
	"signal_trader/internal/modules/ledger"
	"signal_trader/internal/modules/parser"
	"signal_trader/internal/modules/risk"
	"signal_trader/pkg/logger"
)

const maxTradesLimit = 500

type Engine interface {
	Simulate(ctx context.Context, text, channelID string) (engine.SimulateResult, error)
	ReloadFormats(ctx context.Context) error
	ActiveKeys() []string
	Stats(ctx context.Context, period models.Period, channel string) (models.Stats, error)
}

type SyncRunner interface {
	Run(ctx context.Context, opts exchange_sync.Options) (int, error)
}

// Handler — JSON API дашборда.
type Handler struct {
	store    *ledger.Store
	engine   Engine
	settings *risk.SettingsStore
	syncer   SyncRunner
}

func NewHandler(store *ledger.Store, e Engine, settings *risk.SettingsStore, syncer SyncRunner) *Handler {
	return &Handler{store: store, engine: e, settings: settings, syncer: syncer}
}

func parsePeriod(raw string, def models.Period) models.Period {
	switch strings.ToLower(raw) {
	case "today":
		return models.PeriodToday
	case "week", "7d":
		return models.PeriodWeek
	case "month", "30d":
		return models.PeriodMonth
	case "lifetime":
		return models.PeriodLifetime
	}
	return def
}

// GetStats — агрегаты по периоду и каналу плюс активные ключи.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	st, err := h.engine.Stats(r.Context(), parsePeriod(q.Get("period"), models.PeriodLifetime), q.Get("channel"))
	if err != nil {
		logger.Error("[API] stats: %v", err)
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) GetTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(v, maxTradesLimit)
	}
	trades, err := h.store.ListTrades(r.Context(), models.TradeFilter{
		Status:  q.Get("status"),
		Channel: q.Get("channel"),
		Limit:   limit,
	})
	if err != nil {
		logger.Error("[API] list trades: %v", err)
		writeError(w, http.StatusInternalServerError, "trades unavailable")
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, TradesResponse{Trades: trades})
}

func (h *Handler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	period := parsePeriod(r.URL.Query().Get("period"), models.PeriodLifetime)
	rows, err := h.store.ChannelBreakdown(r.Context(), period)
	if err != nil {
		logger.Error("[API] breakdown: %v", err)
		writeError(w, http.StatusInternalServerError, "performance unavailable")
		return
	}
	if rows == nil {
		rows = []models.ChannelStats{}
	}
	writeJSON(w, http.StatusOK, PerformanceResponse{Period: period, Channels: rows})
}

func (h *Handler) GetTradeChannels(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ChannelBreakdown(r.Context(), models.PeriodLifetime)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "channels unavailable")
		return
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.Channel != "" {
			names = append(names, row.Channel)
		}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"channels": names})
}

func (h *Handler) GetActive(w http.ResponseWriter, _ *http.Request) {
	keys := h.engine.ActiveKeys()
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"active_trades": keys})
}

func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, risk.AsMap(h.settings.Snapshot()))
}

// PostSettings применяет набор ключей целиком или не применяет ничего.
func (h *Handler) PostSettings(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := readJSON(r, &data); err != nil {
		badRequest(w, err, "")
		return
	}
	st, err := h.settings.Update(r.Context(), data)
	if errors.Is(err, risk.ErrInvalidSettings) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logger.Error("[API] save settings: %v", err)
		writeError(w, http.StatusInternalServerError, "settings not saved")
		return
	}
	writeJSON(w, http.StatusOK, risk.AsMap(st))
}

func (h *Handler) PostSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err, "Message text required")
		return
	}
	res, err := h.engine.Simulate(r.Context(), req.Text, req.ChannelID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) PostSync(w http.ResponseWriter, r *http.Request) {
	req := SyncRequest{Force: true}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			badRequest(w, err, "exchange must be binance or okx")
			return
		}
	}
	n, err := h.syncer.Run(r.Context(), exchange_sync.Options{Exchange: req.Exchange, Force: req.Force})
	switch {
	case errors.Is(err, exchange_sync.ErrRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeJSON(w, http.StatusOK, map[string]any{"inserted": n, "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"inserted": n})
	}
}

func (h *Handler) ListFormats(w http.ResponseWriter, r *http.Request) {
	formats, err := h.store.ListChannelFormats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "formats unavailable")
		return
	}
	if formats == nil {
		formats = []models.ChannelFormat{}
	}
	writeJSON(w, http.StatusOK, FormatsResponse{Channels: formats})
}

func (h *Handler) CreateFormat(w http.ResponseWriter, r *http.Request) {
	var req CreateFormatRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err, "channel_id and template are required")
		return
	}
	tpl := strings.TrimSpace(req.Template)
	if _, err := parser.Compile(tpl); err != nil {
		writeError(w, http.StatusBadRequest, "Template compile error: "+err.Error())
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	f := &models.ChannelFormat{
		ChannelID:   strings.TrimSpace(req.ChannelID),
		ChannelName: strings.TrimSpace(req.ChannelName),
		Template:    tpl,
		DefaultSide: normSide(req.DefaultSide),
		TradeAmount: max(req.TradeAmount, 0),
		Exchange:    normExchange(req.Exchange),
		NoiseFilter: strings.TrimSpace(req.NoiseFilter),
		Enabled:     enabled,
	}
	id, err := h.store.CreateChannelFormat(r.Context(), f)
	if err != nil {
		logger.Error("[API] create format: %v", err)
		writeError(w, http.StatusConflict, "channel format not created (duplicate channel_id?)")
		return
	}
	h.reloadFormats(r.Context())
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": id})
}

func (h *Handler) UpdateFormat(w http.ResponseWriter, r *http.Request) {
	id, ok := formatID(w, r)
	if !ok {
		return
	}
	var req UpdateFormatRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err, "channel_id and template must not be empty")
		return
	}

	var p models.ChannelFormatPatch
	if req.ChannelID != nil {
		v := strings.TrimSpace(*req.ChannelID)
		p.ChannelID = &v
	}
	if req.ChannelName != nil {
		v := strings.TrimSpace(*req.ChannelName)
		p.ChannelName = &v
	}
	if req.Template != nil {
		v := strings.TrimSpace(*req.Template)
		if _, err := parser.Compile(v); err != nil {
			writeError(w, http.StatusBadRequest, "Template compile error: "+err.Error())
			return
		}
		p.Template = &v
	}
	if req.DefaultSide != nil {
		v := normSide(*req.DefaultSide)
		p.DefaultSide = &v
	}
	if req.Exchange != nil {
		v := normExchange(*req.Exchange)
		p.Exchange = &v
	}
	if req.TradeAmount != nil {
		v := max(*req.TradeAmount, 0)
		p.TradeAmount = &v
	}
	if req.NoiseFilter != nil {
		v := strings.TrimSpace(*req.NoiseFilter)
		p.NoiseFilter = &v
	}
	p.Enabled = req.Enabled

	err := h.store.UpdateChannelFormat(r.Context(), id, p)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "channel format not found")
		return
	}
	if err != nil {
		logger.Error("[API] update format %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "channel format not updated")
		return
	}
	h.reloadFormats(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) DeleteFormat(w http.ResponseWriter, r *http.Request) {
	id, ok := formatID(w, r)
	if !ok {
		return
	}
	err := h.store.DeleteChannelFormat(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "channel format not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "channel format not deleted")
		return
	}
	h.reloadFormats(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) TestFormat(w http.ResponseWriter, r *http.Request) {
	var req TemplateTestRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err, "template and sample required")
		return
	}
	res := parser.TestTemplate(strings.TrimSpace(req.Template), strings.TrimSpace(req.Sample), normSide(req.DefaultSide))
	writeJSON(w, http.StatusOK, res)
}

// reloadFormats — ошибка перекомпиляции не отменяет уже сохранённое изменение.
func (h *Handler) reloadFormats(ctx context.Context) {
	if err := h.engine.ReloadFormats(ctx); err != nil {
		logger.Warn("[API] reload formats: %v", err)
	}
}

func formatID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

package api

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"signal_trader/internal/models"
)

var validate = validator.New()

type SimulateRequest struct {
	Text      string `json:"text" validate:"required"`
	ChannelID string `json:"channel_id"`
}

type SyncRequest struct {
	Exchange string `json:"exchange" validate:"omitempty,oneof=binance okx"`
	Force    bool   `json:"force"`
}

type TemplateTestRequest struct {
	Template    string `json:"template" validate:"required"`
	Sample      string `json:"sample" validate:"required"`
	DefaultSide string `json:"default_side"`
}

type CreateFormatRequest struct {
	ChannelID   string  `json:"channel_id" validate:"required"`
	ChannelName string  `json:"channel_name"`
	Template    string  `json:"template" validate:"required"`
	DefaultSide string  `json:"default_side"`
	TradeAmount float64 `json:"trade_amount"`
	Exchange    string  `json:"exchange"`
	NoiseFilter string  `json:"noise_filter"`
	Enabled     *bool   `json:"enabled"`
}

// UpdateFormatRequest — передаются только меняемые поля.
type UpdateFormatRequest struct {
	ChannelID   *string  `json:"channel_id" validate:"omitempty,min=1"`
	ChannelName *string  `json:"channel_name"`
	Template    *string  `json:"template" validate:"omitempty,min=1"`
	DefaultSide *string  `json:"default_side"`
	TradeAmount *float64 `json:"trade_amount"`
	Exchange    *string  `json:"exchange"`
	NoiseFilter *string  `json:"noise_filter"`
	Enabled     *bool    `json:"enabled"`
}

type TradesResponse struct {
	Trades []models.Trade `json:"trades"`
}

type FormatsResponse struct {
	Channels []models.ChannelFormat `json:"channels"`
}

type PerformanceResponse struct {
	Period   models.Period         `json:"period"`
	Channels []models.ChannelStats `json:"channels"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// normSide — всё, что не SHORT, считается LONG.
func normSide(s string) models.Side {
	if side, ok := models.ParseSide(s); ok {
		return side
	}
	return models.SideLong
}

// normExchange — неизвестная биржа заменяется на binance.
func normExchange(s string) string {
	if s = strings.ToLower(strings.TrimSpace(s)); s == "okx" {
		return s
	}
	return "binance"
}

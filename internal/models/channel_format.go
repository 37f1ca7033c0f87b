package models

import (
	"strings"
	"time"
)

type ChannelFormat struct {
	ID          int64     `json:"id"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	Template    string    `json:"template"`
	DefaultSide Side      `json:"default_side"`
	TradeAmount float64   `json:"trade_amount"`
	Exchange    string    `json:"exchange"`
	NoiseFilter string    `json:"noise_filter"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (f ChannelFormat) NoiseKeywords() []string {
	var out []string
	for _, k := range strings.Split(f.NoiseFilter, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// ChannelFormatPatch — nil-поля не меняются.
type ChannelFormatPatch struct {
	ChannelID   *string
	ChannelName *string
	Template    *string
	DefaultSide *Side
	TradeAmount *float64
	Exchange    *string
	NoiseFilter *string
	Enabled     *bool
}

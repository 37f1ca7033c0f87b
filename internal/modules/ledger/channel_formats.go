package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"signal_trader/internal/models"
)

const formatCols = `id, channel_id, channel_name, template, default_side, trade_amount,
	exchange_name, noise_filter, enabled, created_at, updated_at`

func scanFormat(r rowScanner) (models.ChannelFormat, error) {
	var (
		f                    models.ChannelFormat
		side                 string
		createdAt, updatedAt int64
	)
	err := r.Scan(&f.ID, &f.ChannelID, &f.ChannelName, &f.Template, &side, &f.TradeAmount,
		&f.Exchange, &f.NoiseFilter, &f.Enabled, &createdAt, &updatedAt)
	if err != nil {
		return f, err
	}
	f.DefaultSide = models.Side(side)
	f.CreatedAt = fromMs(createdAt)
	f.UpdatedAt = fromMs(updatedAt)
	return f, nil
}

func (s *Store) ListChannelFormats(ctx context.Context) ([]models.ChannelFormat, error) {
	var out []models.ChannelFormat
	err := s.b.query(ctx, "SELECT "+formatCols+" FROM channel_formats ORDER BY id", nil, func(r rowScanner) error {
		f, err := scanFormat(r)
		if err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list channel formats")
	}
	return out, nil
}

func (s *Store) GetChannelFormat(ctx context.Context, id int64) (*models.ChannelFormat, error) {
	f, err := scanFormat(s.b.queryRow(ctx, "SELECT "+formatCols+" FROM channel_formats WHERE id = ?", id))
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get channel format %d", id)
	}
	return &f, nil
}

func (s *Store) CreateChannelFormat(ctx context.Context, f *models.ChannelFormat) (int64, error) {
	now := time.Now()
	f.CreatedAt, f.UpdatedAt = now, now
	if f.DefaultSide == "" {
		f.DefaultSide = models.SideLong
	}
	if f.Exchange == "" {
		f.Exchange = "binance"
	}
	err := s.b.queryRow(ctx,
		`INSERT INTO channel_formats (channel_id, channel_name, template, default_side, trade_amount,
			exchange_name, noise_filter, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		f.ChannelID, f.ChannelName, f.Template, string(f.DefaultSide), f.TradeAmount,
		strings.ToLower(f.Exchange), f.NoiseFilter, f.Enabled, toMs(now), toMs(now),
	).Scan(&f.ID)
	if err != nil {
		return 0, errors.Wrap(err, "create channel format")
	}
	return f.ID, nil
}

func (s *Store) UpdateChannelFormat(ctx context.Context, id int64, p models.ChannelFormatPatch) error {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.ChannelID != nil {
		add("channel_id", *p.ChannelID)
	}
	if p.ChannelName != nil {
		add("channel_name", *p.ChannelName)
	}
	if p.Template != nil {
		add("template", *p.Template)
	}
	if p.DefaultSide != nil {
		add("default_side", string(*p.DefaultSide))
	}
	if p.TradeAmount != nil {
		add("trade_amount", *p.TradeAmount)
	}
	if p.Exchange != nil {
		add("exchange_name", strings.ToLower(*p.Exchange))
	}
	if p.NoiseFilter != nil {
		add("noise_filter", *p.NoiseFilter)
	}
	if p.Enabled != nil {
		add("enabled", *p.Enabled)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now().UnixMilli())
	args = append(args, id)

	n, err := s.b.exec(ctx, "UPDATE channel_formats SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return errors.Wrapf(err, "update channel format %d", id)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteChannelFormat(ctx context.Context, id int64) error {
	n, err := s.b.exec(ctx, "DELETE FROM channel_formats WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "delete channel format %d", id)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

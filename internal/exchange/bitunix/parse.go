package bitunix

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradejournal/internal/domain"
	"tradejournal/internal/exchange"
)

// decodeEnvelope extracts the list of raw position objects from a response
// body. Known shapes are tried in order: an object wrapping the list under
// "data", "positions", or "result"; a bare array; a single position object.
// Anything else fails closed with an APIError rather than being guessed at.
func decodeEnvelope(body []byte) ([]map[string]any, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &exchange.APIError{Message: fmt.Sprintf("invalid JSON response: %v", err)}
	}

	switch v := payload.(type) {
	case map[string]any:
		for _, key := range []string{"data", "positions", "result"} {
			inner, ok := v[key]
			if !ok || inner == nil {
				continue
			}
			switch list := inner.(type) {
			case []any:
				return itemList(list)
			case map[string]any:
				return []map[string]any{list}, nil
			}
		}
		// A single position returned as a bare object.
		if _, hasID := v["positionId"]; hasID {
			if _, hasSymbol := v["symbol"]; hasSymbol {
				return []map[string]any{v}, nil
			}
		}
		return nil, &exchange.APIError{Message: "unrecognized response shape: object without position data"}
	case []any:
		return itemList(v)
	default:
		return nil, &exchange.APIError{Message: fmt.Sprintf("unrecognized response shape: %T", payload)}
	}
}

func itemList(list []any) ([]map[string]any, error) {
	items := make([]map[string]any, 0, len(list))
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			// Leave non-object entries in place as empty maps so per-item
			// parsing counts them as failures instead of dropping silently.
			items = append(items, map[string]any{})
			continue
		}
		items = append(items, obj)
	}
	return items, nil
}

// parsePosition maps one raw Bitunix position object onto the canonical
// Position. Missing required fields are errors; the caller counts them as
// parse failures without failing the whole fetch.
func (c *Client) parsePosition(raw map[string]any) (domain.Position, error) {
	id := stringField(raw, "positionId", "id")
	if id == "" {
		return domain.Position{}, fmt.Errorf("position id is required")
	}
	symbol := stringField(raw, "symbol")
	if symbol == "" {
		return domain.Position{}, fmt.Errorf("symbol is required")
	}

	side, err := domain.ParsePositionSide(stringField(raw, "side"))
	if err != nil {
		return domain.Position{}, err
	}

	size, err := decimalField(raw, "size")
	if err != nil {
		return domain.Position{}, fmt.Errorf("size: %w", err)
	}
	entryPrice, err := decimalField(raw, "entryPrice")
	if err != nil {
		return domain.Position{}, fmt.Errorf("entry price: %w", err)
	}

	markPrice, err := decimalField(raw, "markPrice", "currentPrice")
	if err != nil {
		markPrice = entryPrice
	}
	unrealized := decimalFieldOrZero(raw, "unrealizedPnl")
	realized := decimalFieldOrZero(raw, "realizedPnl")

	status := c.parseStatus(stringField(raw, "status"))

	openedAt := msTimeField(raw, "openTime", "createTime")
	if openedAt.IsZero() {
		openedAt = c.now()
		c.logger.Warn("position missing open time, using now",
			slog.String("position_id", id),
		)
	}
	var closedAt *time.Time
	if t := msTimeField(raw, "closeTime"); !t.IsZero() {
		closedAt = &t
	}

	now := c.now()
	pos := domain.Position{
		ID:            id,
		Exchange:      c.Name(),
		Symbol:        symbol,
		Side:          side,
		Size:          size,
		EntryPrice:    entryPrice,
		MarkPrice:     markPrice,
		UnrealizedPnL: unrealized,
		RealizedPnL:   realized,
		Status:        status,
		OpenedAt:      openedAt,
		ClosedAt:      closedAt,
		Raw:           raw,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := pos.Validate(); err != nil {
		return domain.Position{}, err
	}
	return pos, nil
}

// parseStatus normalizes Bitunix status strings, falling back to OPEN with a
// warning for values it has never seen.
func (c *Client) parseStatus(s string) domain.PositionStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "active":
		return domain.PositionStatusOpen
	case "closed", "filled":
		return domain.PositionStatusClosed
	case "partially_closed", "partial":
		return domain.PositionStatusPartiallyClosed
	default:
		c.logger.Warn("unknown position status, defaulting to open",
			slog.String("status", s),
		)
		return domain.PositionStatusOpen
	}
}

// stringField returns the first present key rendered as a string.
func stringField(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			return strings.TrimSpace(s)
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		}
	}
	return ""
}

// decimalField parses the first present key as a decimal. JSON numbers and
// numeric strings are both accepted; absent or zero values are errors so
// required fields fail loudly.
func decimalField(raw map[string]any, keys ...string) (decimal.Decimal, error) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		d, err := toDecimal(v)
		if err != nil {
			return decimal.Zero, err
		}
		if d.IsZero() {
			continue
		}
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("missing or zero value")
}

func decimalFieldOrZero(raw map[string]any, keys ...string) decimal.Decimal {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if d, err := toDecimal(v); err == nil {
			return d
		}
	}
	return decimal.Zero
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	case float64:
		return decimal.NewFromFloat(n), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// msTimeField reads the first present key as a millisecond epoch timestamp,
// returning the zero time when absent or non-positive.
func msTimeField(raw map[string]any, keys ...string) time.Time {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		var ms int64
		switch n := v.(type) {
		case float64:
			ms = int64(n)
		case string:
			parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err != nil {
				continue
			}
			ms = parsed
		default:
			continue
		}
		if ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Time{}
}

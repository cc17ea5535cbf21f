package forwarder

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AmountUnit names the unit an Amount is expressed in. The values double as
// the field names of the Amount message sent to gRPC clients.
type AmountUnit string

const (
	UnitMillisatoshi AmountUnit = "millisatoshi"
	UnitSatoshi      AmountUnit = "satoshi"
	UnitBitcoin      AmountUnit = "bitcoin"
)

const (
	msatPerSat  = 1000
	satPerMbtc  = 100_000
	satPerBTC   = 100_000_000
	msatPerBTC  = msatPerSat * satPerBTC
	amountField = "msat"

	// maxExactAmount is the largest integer a message number holds exactly.
	maxExactAmount = 1 << 53
)

// Amount is a bitcoin amount in one of the units the backend reports.
type Amount struct {
	Unit  AmountUnit
	Value uint64
}

// ParseAmount parses the backend's textual amounts: "1000msat", "5sat",
// "2mbtc", "1btc" or a bare integer in millisatoshi. Millibitcoin has no
// message field of its own and is carried as satoshi.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)

	suffixes := []struct {
		suffix string
		unit   AmountUnit
		scale  uint64
	}{
		{"msat", UnitMillisatoshi, 1},
		{"mbtc", UnitSatoshi, satPerMbtc},
		{"sat", UnitSatoshi, 1},
		{"btc", UnitBitcoin, 1},
	}

	unit, scale, digits := UnitMillisatoshi, uint64(1), s
	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.suffix) {
			unit, scale, digits = sfx.unit, sfx.scale, strings.TrimSuffix(s, sfx.suffix)
			break
		}
	}

	v, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if v > math.MaxUint64/scale {
		return Amount{}, fmt.Errorf("amount %q overflows", s)
	}
	return Amount{Unit: unit, Value: v * scale}, nil
}

// AmountFromFields reads an Amount message received from a gRPC client.
// Exactly one unit field must be set.
func AmountFromFields(fields map[string]any) (Amount, error) {
	if len(fields) != 1 {
		return Amount{}, fmt.Errorf("amount must set exactly one unit, got %d fields", len(fields))
	}
	var k string
	var v any
	for k, v = range fields {
	}
	unit := AmountUnit(k)
	switch unit {
	case UnitMillisatoshi, UnitSatoshi, UnitBitcoin:
	default:
		return Amount{}, fmt.Errorf("unknown amount unit %q", k)
	}
	n, ok := v.(float64)
	if !ok || n < 0 || n != math.Trunc(n) {
		return Amount{}, fmt.Errorf("amount %s must be a non-negative integer", k)
	}
	if n > maxExactAmount {
		return Amount{}, fmt.Errorf("amount %s exceeds %d and cannot be represented exactly", k, uint64(maxExactAmount))
	}
	return Amount{Unit: unit, Value: uint64(n)}, nil
}

// Fields renders the amount as an Amount message. Message numbers are
// doubles, so only values up to maxExactAmount survive the trip exactly;
// ConvertAmounts leaves larger amounts in their textual form.
func (a Amount) Fields() map[string]any {
	return map[string]any{string(a.Unit): a.Value}
}

// Millisatoshi converts the amount to millisatoshi.
func (a Amount) Millisatoshi() (uint64, error) {
	var scale uint64
	switch a.Unit {
	case UnitMillisatoshi:
		scale = 1
	case UnitSatoshi:
		scale = msatPerSat
	case UnitBitcoin:
		scale = msatPerBTC
	default:
		return 0, fmt.Errorf("unknown amount unit %q", a.Unit)
	}
	if a.Value > math.MaxUint64/scale {
		return 0, fmt.Errorf("amount %d %s overflows millisatoshi", a.Value, a.Unit)
	}
	return a.Value * scale, nil
}

// BackendString renders the amount in the backend's textual form.
func (a Amount) BackendString() string {
	switch a.Unit {
	case UnitSatoshi:
		return strconv.FormatUint(a.Value, 10) + "sat"
	case UnitBitcoin:
		return strconv.FormatUint(a.Value, 10) + "btc"
	default:
		return strconv.FormatUint(a.Value, 10) + "msat"
	}
}

// ConvertAmounts rewrites textual amounts in a backend result into Amount
// messages. Only string values under keys ending in "msat" are touched, so
// unrelated strings such as aliases survive unchanged. The input is not
// modified.
func ConvertAmounts(result map[string]any) map[string]any {
	if result == nil {
		return nil
	}
	out := make(map[string]any, len(result))
	for k, v := range result {
		out[k] = convertValue(k, v)
	}
	return out
}

func convertValue(key string, v any) any {
	switch t := v.(type) {
	case map[string]any:
		return ConvertAmounts(t)
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = convertValue(key, item)
		}
		return items
	case string:
		if !strings.HasSuffix(key, amountField) {
			return t
		}
		amount, err := ParseAmount(t)
		if err != nil || amount.Value > maxExactAmount {
			return t
		}
		return amount.Fields()
	default:
		return v
	}
}

// RequestAmounts rewrites Amount messages in request params into the
// backend's textual form. Only map values under keys ending in "msat" are
// touched. The input is not modified.
func RequestAmounts(params map[string]any) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		converted, err := requestValue(k, v)
		if err != nil {
			return nil, err
		}
		out[k] = converted
	}
	return out, nil
}

func requestValue(key string, v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if !strings.HasSuffix(key, amountField) {
			return RequestAmounts(t)
		}
		amount, err := AmountFromFields(t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return amount.BackendString(), nil
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			converted, err := requestValue(key, item)
			if err != nil {
				return nil, err
			}
			items[i] = converted
		}
		return items, nil
	default:
		return v, nil
	}
}

package normalization

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Accepted key aliases per canonical field, checked in order.
var (
	signatureKeys = []string{"signature", "txSignature", "tx_signature", "hash"}
	walletKeys    = []string{"wallet", "walletAddress", "wallet_address", "owner"}
	tokenKeys     = []string{"token", "tokenAddress", "token_address", "mint"}
	directionKeys = []string{"direction", "side", "type"}
	amountKeys    = []string{"amount", "tokenAmount", "token_amount"}
	valueKeys     = []string{"valueQuote", "valueInQuoteCurrency", "value_quote", "value_usd", "valueUsd"}
	timeKeys      = []string{"blockTime", "block_time", "timestamp"}
	venueKeys     = []string{"venue", "dex", "source"}
)

// secondsCutoff separates second and millisecond timestamps.
// 1e12 ms is September 2001; 1e12 s is far beyond any block time.
const secondsCutoff = 1_000_000_000_000

func lookup(raw map[string]any, keys []string) (any, string, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, k, true
		}
	}
	return nil, keys[0], false
}

func stringField(raw map[string]any, keys []string) (string, string, bool) {
	v, key, ok := lookup(raw, keys)
	if !ok {
		return "", key, false
	}
	s, isString := v.(string)
	if !isString {
		return "", key, false
	}
	s = strings.TrimSpace(s)
	return s, key, s != ""
}

// decimalField parses a non-negative finite number.
func decimalField(raw map[string]any, keys []string) (decimal.Decimal, error) {
	v, key, ok := lookup(raw, keys)
	if !ok {
		return decimal.Zero, missing(keys[0])
	}

	var d decimal.Decimal
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, invalidNumber(key, v)
		}
		d = decimal.NewFromFloat(n)
	case float32:
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, invalidNumber(key, v)
		}
		d = decimal.NewFromFloat32(n)
	case int:
		d = decimal.NewFromInt(int64(n))
	case int64:
		d = decimal.NewFromInt(n)
	case int32:
		d = decimal.NewFromInt(int64(n))
	case json.Number:
		parsed, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, invalidNumber(key, v)
		}
		d = parsed
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero, invalidNumber(key, v)
		}
		d = parsed
	case decimal.Decimal:
		d = n
	default:
		return decimal.Zero, invalidNumber(key, v)
	}

	if d.IsNegative() {
		return decimal.Zero, &MalformedInputError{Reason: ReasonNegativeValue, Field: key, Detail: d.String()}
	}
	return d, nil
}

// timestampField parses a block time into milliseconds.
func timestampField(raw map[string]any, keys []string) (int64, error) {
	v, key, ok := lookup(raw, keys)
	if !ok {
		return 0, missing(keys[0])
	}

	var ts int64
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 || n > math.MaxInt64/2 {
			return 0, invalidNumber(key, v)
		}
		ts = int64(n)
	case int:
		ts = int64(n)
	case int64:
		ts = n
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				return 0, invalidNumber(key, v)
			}
			i = int64(f)
		}
		ts = i
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, invalidNumber(key, v)
		}
		ts = i
	default:
		return 0, invalidNumber(key, v)
	}

	if ts < 0 {
		return 0, &MalformedInputError{Reason: ReasonNegativeValue, Field: key, Detail: fmt.Sprint(ts)}
	}
	if ts < secondsCutoff {
		ts *= 1000
	}
	return ts, nil
}

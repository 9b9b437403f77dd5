package ccxt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UnixTimestamp is a custom type that can unmarshal Unix timestamps (in milliseconds).
type UnixTimestamp time.Time

// UnmarshalJSON implements json.Unmarshaler for UnixTimestamp.
func (ut *UnixTimestamp) UnmarshalJSON(data []byte) error {
	var timestamp int64
	if err := json.Unmarshal(data, &timestamp); err != nil {
		return fmt.Errorf("failed to unmarshal timestamp: %w", err)
	}
	*ut = UnixTimestamp(time.UnixMilli(timestamp).UTC())
	return nil
}

// MarshalJSON implements json.Marshaler for UnixTimestamp.
func (ut UnixTimestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(ut).UnixMilli())
}

// Time returns the underlying time.Time.
func (ut UnixTimestamp) Time() time.Time {
	return time.Time(ut)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Version   string `json:"version"`
}

// ErrorResponse represents an error response from the CCXT service
type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp,omitempty"`
}

// OHLCV is one candlestick. On the wire it is either a CCXT array
// [timestamp, open, high, low, close, volume, ...] or an object.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// UnmarshalJSON accepts both the array and the object encoding.
func (o *OHLCV) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var raw []json.Number
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to unmarshal ohlcv array: %w", err)
		}
		if len(raw) < 6 {
			return fmt.Errorf("ohlcv array has %d fields, need 6", len(raw))
		}
		ts, err := raw[0].Int64()
		if err != nil {
			return fmt.Errorf("invalid ohlcv timestamp: %w", err)
		}
		values := make([]decimal.Decimal, 5)
		for i := range values {
			d, err := decimal.NewFromString(raw[i+1].String())
			if err != nil {
				return fmt.Errorf("invalid ohlcv field %d: %w", i+1, err)
			}
			values[i] = d
		}
		*o = OHLCV{
			Timestamp: time.UnixMilli(ts).UTC(),
			Open:      values[0],
			High:      values[1],
			Low:       values[2],
			Close:     values[3],
			Volume:    values[4],
		}
		return nil
	}

	type plain OHLCV
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = OHLCV(p)
	return nil
}

// OHLCVResponse represents the response from /api/ohlcv/{exchange}/{symbol}
type OHLCVResponse struct {
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	OHLCV     []OHLCV `json:"ohlcv"`
	Count     int     `json:"count"`
}

// FundingRatePoint is one historical funding payment.
type FundingRatePoint struct {
	Symbol           string          `json:"symbol"`
	FundingRate      decimal.Decimal `json:"fundingRate"`
	FundingTimestamp UnixTimestamp   `json:"fundingTimestamp"`
}

// FundingRateHistoryResponse is the response from /api/funding-rate-history/{exchange}/{symbol}
type FundingRateHistoryResponse struct {
	Exchange     string             `json:"exchange"`
	Symbol       string             `json:"symbol"`
	FundingRates []FundingRatePoint `json:"fundingRates"`
	Count        int                `json:"count"`
}

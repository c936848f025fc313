package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// Metric is a float64 that distinguishes "no data" from zero. An idle window
// has undefined VWAP, which must not be conflated with a VWAP of zero; the
// same applies to the volatility estimators. Undefined metrics serialize as
// JSON null and are excluded from ranking and portfolio aggregation.
type Metric struct {
	Value float64
	Valid bool
}

// Defined returns a valid Metric holding v.
func Defined(v float64) Metric {
	return Metric{Value: v, Valid: true}
}

// Undefined returns the "no data" Metric.
func Undefined() Metric {
	return Metric{}
}

// String formats the metric for logs; undefined prints as "undefined".
func (m Metric) String() string {
	if !m.Valid {
		return "undefined"
	}
	return strconv.FormatFloat(m.Value, 'g', -1, 64)
}

// MarshalJSON encodes a defined metric as a number and an undefined one as null.
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON decodes null as undefined and any number as defined.
func (m *Metric) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Metric{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Metric{Value: v, Valid: true}
	return nil
}

// WindowResult is the immutable outcome of one closed tumbling window for one
// instrument. Exactly one result is emitted per instrument per window.
type WindowResult struct {
	Symbol     string    `json:"symbol"`
	WindowEnd  time.Time `json:"window_end"`
	VWAP       Metric    `json:"vwap"`
	RV         Metric    `json:"rv"`         // realized variance: sum of squared log-returns
	BV         Metric    `json:"bv"`         // bipower variation, scaled comparable to RV
	JumpRatio  Metric    `json:"jump_ratio"` // (RV-BV)/RV when RV defined and > 0 and BV defined
	TradeCount int64     `json:"trade_count"`
	Volume     int64     `json:"volume"`
}

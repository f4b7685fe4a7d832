package market

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Candle 表示单根 K 线/价格点（OHLCV），Timestamp 为毫秒。
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// UnmarshalJSON 兼容上游两种时间格式：毫秒数值与 RFC3339/ISO-8601 字符串。
func (c *Candle) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamp json.RawMessage `json:"timestamp"`
		Open      float64         `json:"open"`
		High      float64         `json:"high"`
		Low       float64         `json:"low"`
		Close     float64         `json:"close"`
		Volume    float64         `json:"volume"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Open = raw.Open
	c.High = raw.High
	c.Low = raw.Low
	c.Close = raw.Close
	c.Volume = raw.Volume
	c.Timestamp = 0
	if len(raw.Timestamp) == 0 {
		return nil
	}
	var ms int64
	if err := json.Unmarshal(raw.Timestamp, &ms); err == nil {
		c.Timestamp = ms
		return nil
	}
	var str string
	if err := json.Unmarshal(raw.Timestamp, &str); err != nil {
		return fmt.Errorf("timestamp 格式无效: %s", string(raw.Timestamp))
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, str); err == nil {
			c.Timestamp = ts.UnixMilli()
			return nil
		}
	}
	return fmt.Errorf("timestamp 格式无效: %s", str)
}

// SortChronological 按时间升序排序（原地）。
func SortChronological(candles []Candle) {
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})
}

// LatestClose 返回序列中最后一根 K 线的收盘价；空序列返回 (0,false)。
func LatestClose(candles []Candle) (float64, bool) {
	if len(candles) == 0 {
		return 0, false
	}
	return candles[len(candles)-1].Close, true
}

// Series 将 K 线拆为 talib 需要的平行数组。
func Series(candles []Candle) (highs, lows, closes []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return highs, lows, closes
}

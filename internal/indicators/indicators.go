// Package indicators computes the technical indicators the signal sources
// need from daily candle history.
package indicators

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
)

func toChan(prices []float64) chan float64 {
	ch := make(chan float64, len(prices))
	for _, p := range prices {
		ch <- p
	}
	close(ch)
	return ch
}

func collect(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

// EMA returns the last exponential moving average value over the period.
func EMA(prices []float64, period int) (float64, error) {
	if len(prices) < period {
		return 0, fmt.Errorf("insufficient data: need %d prices, got %d", period, len(prices))
	}
	values := collect(trend.NewEmaWithPeriod[float64](period).Compute(toChan(prices)))
	if len(values) == 0 {
		return 0, fmt.Errorf("no EMA values calculated")
	}
	return values[len(values)-1], nil
}

// RSI returns the last relative strength index value over the period.
func RSI(prices []float64, period int) (float64, error) {
	if len(prices) < period+1 {
		return 0, fmt.Errorf("insufficient data: need %d prices, got %d", period+1, len(prices))
	}
	values := collect(momentum.NewRsiWithPeriod[float64](period).Compute(toChan(prices)))
	if len(values) == 0 {
		return 0, fmt.Errorf("no RSI values calculated")
	}
	return values[len(values)-1], nil
}

// MACDResult holds the latest MACD state plus crossover detection against
// the previous bar.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
	Crossover string // "bullish", "bearish", "none"
}

// MACD computes the 12/26/9 moving average convergence divergence.
func MACD(prices []float64) (MACDResult, error) {
	const fast, slow, signalPeriod = 12, 26, 9
	if len(prices) < slow+signalPeriod {
		return MACDResult{}, fmt.Errorf("insufficient data: need %d prices, got %d", slow+signalPeriod, len(prices))
	}

	macdChan, signalChan := trend.NewMacdWithPeriod[float64](fast, slow, signalPeriod).Compute(toChan(prices))

	var macdValues, signalValues []float64
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdValues = append(macdValues, m)
		signalValues = append(signalValues, s)
	}
	if len(macdValues) == 0 {
		return MACDResult{}, fmt.Errorf("no MACD values calculated")
	}

	n := len(macdValues)
	result := MACDResult{
		MACD:      macdValues[n-1],
		Signal:    signalValues[n-1],
		Crossover: "none",
	}
	result.Histogram = result.MACD - result.Signal

	if n >= 2 {
		prevHist := macdValues[n-2] - signalValues[n-2]
		if prevHist <= 0 && result.Histogram > 0 {
			result.Crossover = "bullish"
		}
		if prevHist >= 0 && result.Histogram < 0 {
			result.Crossover = "bearish"
		}
	}
	return result, nil
}

// RealizedVol returns the annualized volatility of daily log returns over
// the trailing window.
func RealizedVol(prices []float64, window int) (float64, error) {
	if len(prices) < window+1 {
		return 0, fmt.Errorf("insufficient data: need %d prices, got %d", window+1, len(prices))
	}
	tail := prices[len(prices)-window-1:]
	returns := make([]float64, 0, window)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] <= 0 {
			return 0, fmt.Errorf("non-positive price in window")
		}
		returns = append(returns, math.Log(tail[i]/tail[i-1]))
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(252), nil
}

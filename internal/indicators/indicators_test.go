package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func rising(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestEMAConstantSeries(t *testing.T) {
	ema, err := EMA(constant(60, 100), 20)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, ema, 1e-6)
}

func TestEMAInsufficientData(t *testing.T) {
	_, err := EMA(constant(10, 100), 20)
	assert.Error(t, err)
}

func TestRSIUptrend(t *testing.T) {
	rsi, err := RSI(rising(60, 100, 1), 14)
	require.NoError(t, err)
	assert.Greater(t, rsi, 70.0)
	assert.LessOrEqual(t, rsi, 100.0)
}

func TestMACD(t *testing.T) {
	_, err := MACD(constant(20, 100))
	assert.Error(t, err)

	res, err := MACD(rising(80, 100, 0.5))
	require.NoError(t, err)
	assert.Contains(t, []string{"bullish", "bearish", "none"}, res.Crossover)
	assert.InDelta(t, res.MACD-res.Signal, res.Histogram, 1e-9)
}

func TestRealizedVol(t *testing.T) {
	vol, err := RealizedVol(constant(40, 100), 30)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, vol, 1e-9)

	choppy := make([]float64, 40)
	for i := range choppy {
		if i%2 == 0 {
			choppy[i] = 100
		} else {
			choppy[i] = 102
		}
	}
	vol, err = RealizedVol(choppy, 30)
	require.NoError(t, err)
	assert.Greater(t, vol, 0.0)

	_, err = RealizedVol(constant(10, 100), 30)
	assert.Error(t, err)
}

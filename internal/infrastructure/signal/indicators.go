package signal

import "math"

// rsi returns the Wilder-smoothed Relative Strength Index for the
// given period. A flat series returns the neutral 50.
func rsi(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50
	}

	gains := make([]float64, 0, len(prices)-1)
	losses := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// sma is the simple moving average of the last period prices, 0 when
// there is not enough history.
func sma(prices []float64, period int) float64 {
	if len(prices) < period {
		return 0
	}
	var sum float64
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period)
}

func ema(prices []float64, period int) float64 {
	if len(prices) < period {
		return 0
	}
	multiplier := 2.0 / float64(period+1)
	v := sma(prices[:period], period)
	for i := period; i < len(prices); i++ {
		v = (prices[i]-v)*multiplier + v
	}
	return v
}

// macd returns the MACD line and its signal line.
func macd(prices []float64) (line, sig float64) {
	if len(prices) < 35 {
		return 0, 0
	}
	line = ema(prices, 12) - ema(prices, 26)

	// Signal is the 9-period EMA of the MACD line.
	values := make([]float64, 0, len(prices)-26)
	for i := 26; i < len(prices); i++ {
		values = append(values, ema(prices[:i+1], 12)-ema(prices[:i+1], 26))
	}
	if len(values) >= 9 {
		sig = ema(values, 9)
	}
	return line, sig
}

// momentum is the percent change over lookback bars.
func momentum(prices []float64, lookback int) float64 {
	if len(prices) < lookback+1 {
		return 0
	}
	base := prices[len(prices)-1-lookback]
	if base == 0 {
		return 0
	}
	return (prices[len(prices)-1] - base) / base * 100
}

// volumeRatio compares the most recent volume to the average of the
// rest, capped at 10x.
func volumeRatio(volumes []float64) float64 {
	if len(volumes) < 10 {
		return 1
	}
	current := volumes[len(volumes)-1]
	avg := sma(volumes[:len(volumes)-1], len(volumes)-1)
	if avg == 0 {
		return 1
	}
	return math.Min(current/avg, 10)
}

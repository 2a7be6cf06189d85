package marketdata

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rollwatch/rollwatch/internal/models"
)

// defaultRiskFreeRate and defaultVolatility approximate the Brazilian
// risk-free rate and a typical B3 equity implied vol, used whenever a
// provider has to price an option it has no market for.
const (
	defaultRiskFreeRate = 0.11
	defaultVolatility   = 0.35
)

func daysBetween(now, expiration time.Time) float64 {
	d := expiration.Sub(now).Hours() / 24
	if d < 0 {
		d = 0
	}
	return d
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// blackScholesPrice returns the theoretical premium for a European
// option with the given days-to-expiration.
func blackScholesPrice(spot, strike decimal.Decimal, daysToExp, r, sigma float64, side models.Side) decimal.Decimal {
	s, _ := spot.Float64()
	k, _ := strike.Float64()
	t := daysToExp / 365.0
	if t <= 0 || s <= 0 || k <= 0 {
		intrinsic := spot.Sub(strike)
		if side == models.SidePut {
			intrinsic = strike.Sub(spot)
		}
		if intrinsic.IsNegative() {
			return decimal.Zero
		}
		return intrinsic
	}

	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r+sigma*sigma/2)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	var price float64
	switch side {
	case models.SidePut:
		price = k*math.Exp(-r*t)*normCDF(-d2) - s*normCDF(-d1)
	default:
		price = s*normCDF(d1) - k*math.Exp(-r*t)*normCDF(d2)
	}
	if price < 0 {
		price = 0
	}
	return decimal.NewFromFloat(price)
}

// blackScholesDelta returns the option's delta, signed negative for puts.
func blackScholesDelta(spot, strike decimal.Decimal, daysToExp, r, sigma float64, side models.Side) decimal.Decimal {
	s, _ := spot.Float64()
	k, _ := strike.Float64()
	t := daysToExp / 365.0
	if t <= 0 || s <= 0 || k <= 0 {
		return decimal.Zero
	}
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r+sigma*sigma/2)*t) / (sigma * sqrtT)

	delta := normCDF(d1)
	if side == models.SidePut {
		delta -= 1
	}
	return decimal.NewFromFloat(delta)
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

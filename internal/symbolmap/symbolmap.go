// Package symbolmap encodes and decodes B3-style option symbols into the
// (ticker, strike, side, expiration) tuple the rest of the system trades
// in. The wire format is fixed-alphabet but variable-length
// ([A-Z]{4,5} ticker base, one type-code letter, one-or-more strike
// digits, an optional trailing suffix), which is why decode uses a
// regular expression rather than the fixed-offset slicing a
// fixed-width OCC symbol would allow.
package symbolmap

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rollwatch/rollwatch/internal/models"
)

// ErrInvalidFormat and ErrInvalidTypeCode are the two ways decode fails.
var (
	ErrInvalidFormat   = fmt.Errorf("invalid-format")
	ErrInvalidTypeCode = fmt.Errorf("invalid-type-code")
	ErrInvalidOption   = fmt.Errorf("invalid-option-type")
	ErrMonthOutOfRange = fmt.Errorf("month-out-of-range")
)

var symbolPattern = regexp.MustCompile(`^([A-Z]{4,5})([A-Z])([0-9]+)([A-Z0-9]*)$`)

// tickerBases normalizes a short ticker root to its full exchange ticker.
// Bases not listed here get a default "3" suffix, the common-stock class
// on B3.
var tickerBases = map[string]string{
	"VALE": "VALE3",
	"PETR": "PETR4",
	"ITUB": "ITUB4",
	"BBDC": "BBDC4",
	"ABEV": "ABEV3",
	"BBAS": "BBAS3",
	"B3SA": "B3SA3",
}

func normalizeTicker(base string) string {
	if full, ok := tickerBases[base]; ok {
		return full
	}
	return base + "3"
}

// baseTicker strips the trailing class digit so encode can recover the
// short base from a full ticker, inverting normalizeTicker.
func baseTicker(full string) string {
	for base, mapped := range tickerBases {
		if mapped == full {
			return base
		}
	}
	if n := len(full); n > 0 && full[n-1] >= '0' && full[n-1] <= '9' {
		return full[:n-1]
	}
	return full
}

// Decoded is the result of decoding a B3 option symbol.
type Decoded struct {
	Ticker     string
	Strike     decimal.Decimal
	Side       models.Side
	Expiration time.Time
}

// Decode parses a B3 option symbol into its (ticker, strike, side,
// expiration) components. year anchors the expiration's rollover: when
// omitted (zero value), time.Now().Year() is used.
func Decode(symbol string, year int) (Decoded, error) {
	m := symbolPattern.FindStringSubmatch(symbol)
	if m == nil {
		return Decoded{}, ErrInvalidFormat
	}
	base, typeCode, strikeDigits := m[1], m[2][0], m[3]

	side, month, err := decodeTypeCode(typeCode)
	if err != nil {
		return Decoded{}, err
	}

	strikeInt, err := strconv.ParseInt(strikeDigits, 10, 64)
	if err != nil {
		return Decoded{}, ErrInvalidFormat
	}
	strike := decodeStrike(strikeInt)

	now := time.Now()
	if year == 0 {
		year = now.Year()
	}
	if month < int(now.Month()) {
		year++
	}
	expiration := thirdFriday(year, month)

	return Decoded{
		Ticker:     normalizeTicker(base),
		Strike:     strike,
		Side:       side,
		Expiration: expiration,
	}, nil
}

// decodeTypeCode maps A-L to CALL months 1-12 and M-X to PUT months 1-12.
func decodeTypeCode(code byte) (models.Side, int, error) {
	switch {
	case code >= 'A' && code <= 'L':
		return models.SideCall, int(code-'A') + 1, nil
	case code >= 'M' && code <= 'X':
		return models.SidePut, int(code-'M') + 1, nil
	default:
		return "", 0, ErrInvalidTypeCode
	}
}

// encodeTypeCode inverts decodeTypeCode.
func encodeTypeCode(side models.Side, month int) (byte, error) {
	if month < 1 || month > 12 {
		return 0, ErrMonthOutOfRange
	}
	switch side {
	case models.SideCall:
		return byte('A' + month - 1), nil
	case models.SidePut:
		return byte('M' + month - 1), nil
	default:
		return 0, ErrInvalidOption
	}
}

// decodeStrike applies the heuristic: integers >= 1000 represent cents
// scaled by 100, everything else is scaled by 2 (the half-point
// convention B3 uses for low-priced underlyings).
func decodeStrike(raw int64) decimal.Decimal {
	if raw >= 1000 {
		return decimal.NewFromInt(raw).Div(decimal.NewFromInt(100))
	}
	return decimal.NewFromInt(raw).Div(decimal.NewFromInt(2))
}

// encodeStrike inverts decodeStrike, choosing the same threshold branch
// decode would have used for the resulting integer.
func encodeStrike(strike decimal.Decimal) int64 {
	scaled100 := strike.Mul(decimal.NewFromInt(100))
	if scaled100.GreaterThanOrEqual(decimal.NewFromInt(1000)) {
		return scaled100.Round(0).IntPart()
	}
	return strike.Mul(decimal.NewFromInt(2)).Round(0).IntPart()
}

// thirdFriday returns the third Friday of the given month/year, the B3
// convention for monthly option expirations.
func thirdFriday(year, month int) time.Time {
	d := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	fridays := 0
	for {
		if d.Weekday() == time.Friday {
			fridays++
			if fridays == 3 {
				return d
			}
		}
		d = d.AddDate(0, 0, 1)
	}
}

// Encode builds a B3 option symbol from its decoded components, the
// inverse of Decode for canonical inputs.
func Encode(ticker string, strike decimal.Decimal, side models.Side, expiration time.Time) (string, error) {
	code, err := encodeTypeCode(side, int(expiration.Month()))
	if err != nil {
		return "", err
	}
	base := baseTicker(ticker)
	strikeInt := encodeStrike(strike)
	return fmt.Sprintf("%s%c%d", base, code, strikeInt), nil
}

package symbolmap

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollwatch/rollwatch/internal/models"
)

func TestDecode_CallTypeCodeAndHighStrikeCentsHeuristic(t *testing.T) {
	decoded, err := Decode("PETRA1234", 2026)
	require.NoError(t, err)
	assert.Equal(t, "PETR4", decoded.Ticker)
	assert.Equal(t, models.SideCall, decoded.Side)
	assert.True(t, decoded.Strike.Equal(decimal.NewFromFloat(12.34)), "got %s", decoded.Strike)
	assert.Equal(t, time.January, decoded.Expiration.Month())
}

func TestDecode_PutTypeCodeAndLowStrikeHalfPointHeuristic(t *testing.T) {
	decoded, err := Decode("VALEM25", 2026)
	require.NoError(t, err)
	assert.Equal(t, "VALE3", decoded.Ticker)
	assert.Equal(t, models.SidePut, decoded.Side)
	assert.True(t, decoded.Strike.Equal(decimal.NewFromFloat(12.5)), "got %s", decoded.Strike)
}

func TestDecode_UnlistedTickerBaseGetsDefaultClass3Suffix(t *testing.T) {
	decoded, err := Decode("XYZWA100", 2026)
	require.NoError(t, err)
	assert.Equal(t, "XYZW3", decoded.Ticker)
}

func TestDecode_InvalidFormatRejected(t *testing.T) {
	_, err := Decode("bad!!symbol", 2026)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestDecode_InvalidTypeCodeRejected(t *testing.T) {
	_, err := Decode("PETRY100", 2026)
	assert.ErrorIs(t, err, ErrInvalidTypeCode)
}

func TestDecode_MonthBeforeNowRollsToNextYear(t *testing.T) {
	now := time.Now()
	past := now.AddDate(0, -2, 0)
	pastMonthCode := byte('A' + int(past.Month()) - 1)
	decoded, err := Decode("PETR"+string(pastMonthCode)+"100", 0)
	require.NoError(t, err)
	want := now.Year()
	if past.Month() < now.Month() {
		want++
	}
	assert.Equal(t, want, decoded.Expiration.Year())
}

func TestEncode_InvertsDecodeForCanonicalInputs(t *testing.T) {
	exp := thirdFriday(2026, 1)
	symbol, err := Encode("PETR4", decimal.NewFromFloat(12.34), models.SideCall, exp)
	require.NoError(t, err)

	decoded, err := Decode(symbol, 2026)
	require.NoError(t, err)
	assert.Equal(t, "PETR4", decoded.Ticker)
	assert.True(t, decoded.Strike.Equal(decimal.NewFromFloat(12.34)))
	assert.Equal(t, models.SideCall, decoded.Side)
}

func TestEncode_MonthOutOfRangeRejected(t *testing.T) {
	_, err := encodeTypeCode(models.SideCall, 0)
	assert.ErrorIs(t, err, ErrMonthOutOfRange)

	_, err = encodeTypeCode(models.SideCall, 13)
	assert.ErrorIs(t, err, ErrMonthOutOfRange)
}

func TestThirdFriday_IsAlwaysAFriday(t *testing.T) {
	d := thirdFriday(2026, 3)
	assert.Equal(t, time.Friday, d.Weekday())
}

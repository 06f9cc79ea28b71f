package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimalToScaled_RoundsHalfUp(t *testing.T) {
	v, err := DecimalToScaled("1.005", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(101), v)

	v, err = DecimalToScaled("1.0049", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)

	v, err = DecimalToScaled("-1.005", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(-101), v, "rounding applies to the magnitude")
}

func TestDecimalToScaled_Scales(t *testing.T) {
	tests := []struct {
		in    string
		scale int
		want  int64
	}{
		{"0", 2, 0},
		{"12", 2, 1200},
		{"12.3", 2, 1230},
		{"+7.25", 2, 725},
		{" 3.10 ", 2, 310},
		{"2.5", 0, 3},
		{"2.4", 0, 2},
		{"0.0001", 4, 1},
		{"000.99", 2, 99},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := DecimalToScaled(tt.in, tt.scale)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecimalToScaled_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		scale int
		err   error
	}{
		{"empty", "", 2, ErrInvalidDecimal},
		{"blank", "   ", 2, ErrInvalidDecimal},
		{"letters", "12a", 2, ErrInvalidDecimal},
		{"trailing dot", "12.", 2, ErrInvalidDecimal},
		{"leading dot", ".5", 2, ErrInvalidDecimal},
		{"exponent", "1e5", 2, ErrInvalidDecimal},
		{"comma", "1,50", 2, ErrInvalidDecimal},
		{"negative scale", "1.00", -1, ErrNegativeScale},
		{"factor too large", "1", 16, ErrOutOfRange},
		{"integer overflow", "9007199254740992", 0, ErrOutOfRange},
		{"scaled overflow", "90071992547409.92", 2, ErrOutOfRange},
		{"rounding overflow", "90071992547409.915", 2, ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecimalToScaled(tt.in, tt.scale)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDecimalToScaled_UpperBound(t *testing.T) {
	v, err := DecimalToScaled("90071992547409.91", 2)
	require.NoError(t, err)
	assert.Equal(t, MaxSafeInteger, v)
}

func TestScaledToDecimal_RoundTrip(t *testing.T) {
	canonical := map[string]string{
		"0":        "0.00",
		"5":        "5.00",
		"+5.5":     "5.50",
		"19.99":    "19.99",
		"-0.05":    "-0.05",
		"-120.1":   "-120.10",
		"1000000":  "1000000.00",
		"00012.30": "12.30",
	}

	for in, want := range canonical {
		cents, err := DecimalToScaled(in, 2)
		require.NoError(t, err, in)
		assert.Equal(t, want, ScaledToDecimal(cents), in)
	}
}

func TestScaledToDecimal_OutOfRange(t *testing.T) {
	assert.Equal(t, ZeroAmount, ScaledToDecimal(MaxSafeInteger+1))
	assert.Equal(t, ZeroAmount, ScaledToDecimal(-MaxSafeInteger-1))
}

func TestFeeFromBasisPoints(t *testing.T) {
	fee, err := FeeFromBasisPoints(10000, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(250), fee)
	assert.Equal(t, "2.50", CentsToAmount(fee))

	fee, err = FeeFromBasisPoints(50, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fee, "0.5 cent rounds up")

	fee, err = FeeFromBasisPoints(49, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), fee)

	fee, err = FeeFromBasisPoints(-50, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), fee)

	fee, err = FeeFromBasisPoints(1999, 333)
	require.NoError(t, err)
	assert.Equal(t, int64(67), fee) // 66.5667
}

func TestFeeFromBasisPoints_Overflow(t *testing.T) {
	_, err := FeeFromBasisPoints(MaxSafeInteger, 2)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = FeeFromBasisPoints(MaxSafeInteger+1, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestRateToBasisPoints(t *testing.T) {
	bp, err := RateToBasisPoints("2.50")
	require.NoError(t, err)
	assert.Equal(t, int64(250), bp)
	assert.Equal(t, "2.50", BasisPointsToPercent(bp))
}

func TestLineTotal(t *testing.T) {
	total, err := LineTotal("19.99", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5997), total)

	_, err = LineTotal("free", 3)
	assert.ErrorIs(t, err, ErrInvalidDecimal)
}

func TestAdd(t *testing.T) {
	sum, err := Add(150, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(400), sum)

	_, err = Add(MaxSafeInteger, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestParseInteger(t *testing.T) {
	v, err := ParseInteger("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = ParseInteger(float64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = ParseInteger(1.5)
	assert.ErrorIs(t, err, ErrInvalidDecimal)

	_, err = ParseInteger("abc")
	assert.ErrorIs(t, err, ErrInvalidDecimal)

	_, err = ParseInteger(nil)
	assert.ErrorIs(t, err, ErrInvalidDecimal)

	_, err = ParseInteger(float64(MaxSafeInteger) * 4)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

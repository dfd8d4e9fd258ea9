package tax

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidRate(t *testing.T) {
	for _, raw := range []string{"0", "0.25", "3", "5", "12", "18", "28"} {
		assert.True(t, ValidRate(decimal.RequireFromString(raw)), "rate %s", raw)
	}
	for _, raw := range []string{"1", "10", "17.5", "-5"} {
		assert.False(t, ValidRate(decimal.RequireFromString(raw)), "rate %s", raw)
	}
}

func TestComputeLineIntraStateSplitsHalves(t *testing.T) {
	// 1000.00 INR at 18% intra-state: 9% CGST + 9% SGST.
	line, err := ComputeLine(100000, decimal.NewFromInt(18), true)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), line.CGST)
	assert.Equal(t, int64(9000), line.SGST)
	assert.Equal(t, int64(0), line.IGST)
	assert.Equal(t, int64(18000), line.Total)
}

func TestComputeLineInterStateChargesIGST(t *testing.T) {
	line, err := ComputeLine(100000, decimal.NewFromInt(18), false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), line.CGST)
	assert.Equal(t, int64(0), line.SGST)
	assert.Equal(t, int64(18000), line.IGST)
	assert.Equal(t, int64(18000), line.Total)
}

func TestComputeLineRoundsAtPaise(t *testing.T) {
	// 3.33 INR at 0.25%: 0.0008325 INR of tax per levy half.
	line, err := ComputeLine(333, decimal.RequireFromString("0.25"), true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), line.CGST)
	assert.Equal(t, int64(0), line.SGST)

	// 99.99 INR at 5% inter-state is 4.9995 INR, rounds to 5.00.
	line, err = ComputeLine(9999, decimal.NewFromInt(5), false)
	require.NoError(t, err)
	assert.Equal(t, int64(500), line.IGST)
}

func TestComputeLineRejectsOffSlabRate(t *testing.T) {
	_, err := ComputeLine(1000, decimal.NewFromInt(10), true)
	require.ErrorIs(t, err, ErrInvalidRate)
}

func TestTotals(t *testing.T) {
	var totals Totals

	intra, err := ComputeLine(50000, decimal.NewFromInt(18), true)
	require.NoError(t, err)
	totals.Add(intra)

	exempt, err := ComputeLine(20000, decimal.NewFromInt(0), true)
	require.NoError(t, err)
	totals.Add(exempt)

	assert.Equal(t, int64(70000), totals.Subtotal)
	assert.Equal(t, int64(4500), totals.CGST)
	assert.Equal(t, int64(4500), totals.SGST)
	assert.Equal(t, int64(0), totals.IGST)
	assert.Equal(t, int64(79000), totals.Grand())
}

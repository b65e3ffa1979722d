package main

import (
	"testing"

	"consolemart/internal/catalog"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	for _, ok := range []string{"0", "0.25", " 1 "} {
		_, err := parseRate(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "-0.1", "1.01", "half"} {
		_, err := parseRate(bad)
		assert.Error(t, err, bad)
	}
}

func TestParsePositive(t *testing.T) {
	d, err := parsePositive("1000.5")
	require.NoError(t, err)
	assert.Equal(t, "1000.5", d.String())

	_, err = parsePositive("0")
	assert.Error(t, err)
}

func TestCheckPurchasable(t *testing.T) {
	priced := decimal.NewNullDecimal(decimal.NewFromInt(3))
	inStock, err := catalog.NewProduct("P1", "Salt", priced, 2)
	require.NoError(t, err)
	soldOut, err := catalog.NewProduct("P2", "Pepper", priced, 0)
	require.NoError(t, err)
	free, err := catalog.NewProduct("P3", "Air", decimal.NewNullDecimal(decimal.Zero), 9)
	require.NoError(t, err)

	assert.NoError(t, checkPurchasable(inStock, 2))
	assert.ErrorContains(t, checkPurchasable(inStock, 3), "invalid amount")
	assert.ErrorContains(t, checkPurchasable(soldOut, 1), "out of stock")
	assert.ErrorContains(t, checkPurchasable(free, 1), "invalid pricing")
}

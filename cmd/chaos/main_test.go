package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGameDayLeavesSourcesAlone(t *testing.T) {
	src := t.TempDir()
	customers := filepath.Join(src, "customers.csv")
	products := filepath.Join(src, "products.csv")
	require.NoError(t, os.WriteFile(customers, []byte("C1, Alice, 0, 0\nV2, Vic, 0.1, 1500\n"), 0o644))
	require.NoError(t, os.WriteFile(products, []byte("P1, Salt, 10, 5\nB2, Kit, P1, 1\n"), 0o644))

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--dir", t.TempDir(), customers, products, filepath.Join(src, "orders.csv")})

	require.NoError(t, cmd.Execute(), out.String())
	assert.Contains(t, out.String(), "Game day: Storage game day")
	assert.NotContains(t, out.String(), "FAIL")

	b, err := os.ReadFile(customers)
	require.NoError(t, err)
	assert.Equal(t, "C1, Alice, 0, 0\nV2, Vic, 0.1, 1500\n", string(b))
	_, err = os.Stat(filepath.Join(src, "orders.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

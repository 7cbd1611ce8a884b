package pricelist

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stamp = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	prices, err := Parse(strings.NewReader(
		"tld,register,renew,currency\n"+
			"com,10.99,12.99,gbp\n"+
			".CO.UK, 8.99,,GBP\n"), stamp)
	require.NoError(t, err)
	require.Len(t, prices, 2)

	assert.Equal(t, ".com", prices[0].TLD)
	assert.Equal(t, "12.99", prices[0].Renew.StringFixed(2))
	assert.Equal(t, "GBP", prices[0].Currency)
	assert.Equal(t, stamp, prices[0].UpdatedAt)

	assert.Equal(t, ".co.uk", prices[1].TLD)
	assert.True(t, prices[1].Renew.Equal(prices[1].Register))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bad header", "name,price,renew,currency\n", "line 1: header"},
		{"empty tld", "tld,register,renew,currency\n.,1,1,GBP\n", "line 2: empty tld"},
		{"zero price", "tld,register,renew,currency\ncom,0,1,GBP\n", "line 2: invalid register price"},
		{"bad renew", "tld,register,renew,currency\ncom,1,x,GBP\n", "line 2: invalid renew price"},
		{"bad currency", "tld,register,renew,currency\ncom,1,1,POUNDS\n", "line 2: invalid currency"},
		{"wrong field count", "tld,register,renew,currency\ncom,1\n", "wrong number of fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input), stamp)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func writeGzip(t *testing.T, path, content string) {
	t.Helper()
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	_, err := gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestReadFilesAndMerge(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.csv.gz")
	second := filepath.Join(dir, "b.csv")
	writeGzip(t, first, "tld,register,renew,currency\ncom,10.99,12.99,GBP\nnet,12.49,14.49,GBP\n")
	require.NoError(t, os.WriteFile(second, []byte("tld,register,renew,currency\ncom,11.49,13.49,GBP\n"), 0o600))

	sheets, err := ReadFiles(context.Background(), []string{first, second}, stamp)
	require.NoError(t, err)
	require.Len(t, sheets, 2)
	assert.Equal(t, first, sheets[0].Path)
	assert.Len(t, sheets[0].Prices, 2)

	prices, replaced := Merge(sheets)
	assert.Equal(t, 1, replaced)
	require.Len(t, prices, 2)
	assert.Equal(t, ".com", prices[0].TLD)
	assert.Equal(t, "11.49", prices[0].Register.StringFixed(2))
	assert.Equal(t, ".net", prices[1].TLD)
}

func TestReadFilesMissing(t *testing.T) {
	_, err := ReadFiles(context.Background(), []string{filepath.Join(t.TempDir(), "nope.csv")}, stamp)
	assert.Error(t, err)
}

package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"TABLE", FormatTable, false},
		{"json", FormatJSON, false},
		{" yml ", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrinterTable(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable("ID", "APPLICATION")
	tbl.AddRow("s1", "demo")

	require.NoError(t, NewPrinter(&buf, FormatTable, false).Print(tbl))
	assert.Contains(t, buf.String(), "APPLICATION")
	assert.Contains(t, buf.String(), "demo")
}

func TestPrinterFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable, false).Print(map[string]int{"n": 1}))
	assert.JSONEq(t, `{"n":1}`, buf.String())
}

func TestPrinterYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatYAML, false).Print(map[string]string{"application": "demo"}))
	assert.Equal(t, "application: demo\n", buf.String())
}

func TestSuccessWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, FormatTable, false).Success("done")
	assert.Equal(t, "done\n", buf.String())
}

func TestKeyValues(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, KeyValues(&buf, [][2]string{{"State", "active"}}))
	assert.Contains(t, buf.String(), "State")
	assert.Contains(t, buf.String(), "active")
}

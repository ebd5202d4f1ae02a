package protect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateComponents(t *testing.T) {
	tests := []struct {
		name  string
		value string
		hint  FormatHint
		ok    bool
		day   string
		month string
		year  string
	}{
		{"DMY Slash", "15/03/1980", FormatDateDMY, true, "15", "03", "1980"},
		{"DMY Dash Short Year", "5-3-80", FormatDateDMY, true, "5", "3", "80"},
		{"MDY", "03/15/1980", FormatDateMDY, true, "15", "03", "1980"},
		{"YMD", "1980-03-15", FormatDateYMD, true, "15", "03", "1980"},
		{"Day Out Of Range", "32/03/1980", FormatDateDMY, false, "", "", ""},
		{"Month Out Of Range", "15/13/1980", FormatDateDMY, false, "", "", ""},
		{"Two Parts", "15/03", FormatDateDMY, false, "", "", ""},
		{"Mixed Separators", "15/03-1980", FormatDateDMY, false, "", "", ""},
		{"Written Date", "15 de marzo de 1980", FormatDateDMY, false, "", "", ""},
		{"Three Digit Year", "15/03/980", FormatDateDMY, false, "", "", ""},
		{"Not A Date Hint", "15/03/1980", FormatNone, false, "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := parseDateComponents(tt.value, tt.hint)
			require.Equal(t, tt.ok, ok)
			if !ok {
				assert.Nil(t, c)
				return
			}
			assert.Equal(t, tt.day, c[componentDay])
			assert.Equal(t, tt.month, c[componentMonth])
			assert.Equal(t, tt.year, c[componentYear])
		})
	}
}

func TestFormatDate(t *testing.T) {
	c, ok := parseDateComponents("15/03/1980", FormatDateDMY)
	require.True(t, ok)

	out, ok := formatDate(c, DateOrderMDY)
	require.True(t, ok)
	assert.Equal(t, "03/15/1980", out)

	out, ok = formatDate(c, DateOrderYMD)
	require.True(t, ok)
	assert.Equal(t, "1980/03/15", out)

	out, ok = formatDate(c, DateOrderDMY)
	require.True(t, ok)
	assert.Equal(t, "15/03/1980", out)

	_, ok = formatDate(map[string]string{componentDay: "1"}, DateOrderMDY)
	assert.False(t, ok)
}

func TestFormatPhone(t *testing.T) {
	assert.Equal(t, "55 1234 5678", formatPhone("55-1234-5678", " "))
	assert.Equal(t, "+52-55-1234-5678", formatPhone("+52 55.1234.5678", "-"))
	assert.Equal(t, "5512345678", formatPhone("5512345678", "-"))
}

func TestFormatName(t *testing.T) {
	assert.Equal(t, "Juan Pérez", formatName("JUAN PÉREZ"))
	assert.Equal(t, "María López", formatName("maría lópez"))
}

package datefmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navfeed/internal/domain"
)

func TestNormalizeLayouts(t *testing.T) {
	want := domain.MustParseISO("2025-07-04")
	tests := []struct {
		token string
	}{
		{"2025-07-04"},
		{"04-07-2025"},
		{"04/07/2025"},
		{"2025/07/04"},
		{"20250704"},
		{" \"2025-07-04\" "},
		{"2025-07-04 00:00:00"},
		{"4/7/2025"},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := Normalize(tt.token)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestNormalizeFallsBackToMonthFirst(t *testing.T) {
	// 13 cannot be a month, so day/month/year fails and month/day/year wins.
	got, err := Normalize("07/13/2025")
	require.NoError(t, err)
	assert.Equal(t, domain.MustParseISO("2025-07-13"), got)
}

func TestDeclaredFormatsAgree(t *testing.T) {
	iso, err := NormalizeAs("2025-07-04", "2006-01-02")
	require.NoError(t, err)
	dmy, err := NormalizeAs("04/07/2025", "02/01/2006")
	require.NoError(t, err)
	mdy, err := NormalizeAs("07/04/2025", "01/02/2006")
	require.NoError(t, err)

	assert.Equal(t, iso, dmy)
	assert.Equal(t, iso, mdy)
}

func TestNormalizeRejects(t *testing.T) {
	for _, tok := range []string{"", "DATE", "Date of NAV", "nan"} {
		_, err := Normalize(tok)
		assert.ErrorIs(t, err, ErrHeaderToken, tok)
	}
	for _, tok := range []string{"31/31/2025", "yesterday", "2025.07.04", "202507041"} {
		_, err := Normalize(tok)
		assert.ErrorIs(t, err, ErrUnparseable, tok)
	}
}

func TestParseStored(t *testing.T) {
	d, err := ParseStored("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", d.String())

	d, err = ParseStored("02/29/2024")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", d.String())

	_, err = ParseStored("29/02/2024")
	assert.Error(t, err)
}

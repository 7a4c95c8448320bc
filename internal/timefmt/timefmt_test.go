package timefmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRFC3339(t *testing.T) {
	got, err := Parse("2025-06-01T12:30:00Z", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC), got)
}

func TestParseRFC3339Nano(t *testing.T) {
	got, err := Parse("2025-06-01T12:30:00.123456789Z", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 123456789, got.Nanosecond())
}

func TestParseLegacyPattern(t *testing.T) {
	got, err := Parse("14:05 09/03/2025", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 9, 14, 5, 0, 0, time.UTC), got)
}

func TestParseLegacyPatternStripsCommas(t *testing.T) {
	got, err := Parse("14:05, 09/03/2025", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 9, 14, 5, 0, 0, time.UTC), got)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, value := range []string{"", "  ", "yesterday", "2025-13-45", "25:99 01/01/2025"} {
		_, err := Parse(value, time.UTC)
		assert.Error(t, err, "value %q", value)
	}
}

func TestFormatRoundTrip(t *testing.T) {
	orig := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	parsed, err := Parse(Format(orig), time.UTC)
	require.NoError(t, err)
	assert.True(t, orig.Equal(parsed))

	assert.Equal(t, "12:30 01/06/2025", FormatLegacy(orig))
}

package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC)
	encoded := EncodeCursor(Cursor{CreatedAt: at, ID: "A1B2C3D4"})

	cursor, err := ParseCursor(encoded)
	require.NoError(t, err)
	require.True(t, at.Equal(cursor.CreatedAt))
	require.Equal(t, "A1B2C3D4", cursor.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	cursor, err := ParseCursor("  ")
	require.NoError(t, err)
	require.Nil(t, cursor)

	for _, value := range []string{"%%%", EncodeCursor(Cursor{ID: ""}), "bm9waXBl"} {
		_, err := ParseCursor(value)
		require.Error(t, err, value)
	}
}

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
	require.Equal(t, 7, NormalizeLimit(7))
	require.Equal(t, 8, LimitWithBuffer(7))
}

package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, NormalizeLimit(0))
	assert.Equal(t, 10, NormalizeLimit(10))
	assert.Equal(t, MaxPageSize, NormalizeLimit(10_000))
}

func TestTimeCursorRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 123456000, time.UTC)
	token, err := EncodeCursor(TimeCursor(at, 42))
	require.NoError(t, err)

	got, id, ok, err := DecodeTimeCursor(token)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(got))
	assert.Equal(t, int64(42), id)
}

func TestDecodeTimeCursorRejectsGarbage(t *testing.T) {
	_, _, _, err := DecodeTimeCursor("not-base64!!")
	assert.ErrorIs(t, err, ErrInvalidPageToken)

	_, _, ok, err := DecodeTimeCursor("")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildCursorPageInfo(t *testing.T) {
	rows := []int{1, 2, 3}
	page, info, err := BuildCursorPageInfo(rows, 2, func(v int) Cursor {
		return Cursor{Key: string(rune('a' + v))}
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, page)
	assert.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "c", cursor.Key)

	page, info, err = BuildCursorPageInfo(rows, 3, func(v int) Cursor { return Cursor{} })
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
}

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := Cursor{
		Timestamp: time.Date(2024, 3, 17, 9, 30, 0, 123456789, time.UTC),
		Serial:    42,
	}
	decoded, err := DecodeCursor(cursor.Encode())
	assert.NoError(t, err)
	assert.True(t, decoded.Timestamp.Equal(cursor.Timestamp))
	assert.Equal(t, cursor.Serial, decoded.Serial)
}

func TestCursorInvalid(t *testing.T) {
	for _, encoded := range []string{
		"this is not base64!",
		"aGVsbG8=", // "hello", no separator
		"YWJjLjQy", // "abc.42", bad timestamp
		"NDIuYWJj", // "42.abc", bad serial
	} {
		_, err := DecodeCursor(encoded)
		assert.ErrorIs(t, err, ErrInvalidCursor, encoded)
	}
}

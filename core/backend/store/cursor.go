// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor represents a pagination cursor containing timestamp and serial number.
// Clients receive it base64 encoded and must treat it as opaque.
type Cursor struct {
	Timestamp time.Time
	Serial    int64
}

// Encode encodes the cursor to a base64 string format
func (c Cursor) Encode() string {
	encoded := fmt.Sprintf("%d.%d", c.Timestamp.UnixNano(), c.Serial)
	return base64.URLEncoding.EncodeToString([]byte(encoded))
}

// DecodeCursor decodes a base64 cursor string back to a Cursor
func DecodeCursor(encoded string) (Cursor, error) {
	decoded, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	parts := strings.SplitN(string(decoded), ".", 2)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("%w: missing separator", ErrInvalidCursor)
	}

	timestampNano, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad timestamp", ErrInvalidCursor)
	}

	serial, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad serial", ErrInvalidCursor)
	}

	return Cursor{
		Timestamp: time.Unix(0, timestampNano).UTC(),
		Serial:    serial,
	}, nil
}

// Package evidence holds the bounded snapshot store and helpers shared by its
// durable adapters.
package evidence

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"time"
)

const (
	DefaultCapacity = 20

	// TimestampLayout is the persisted timestamp format (ISO-8601, UTC, milliseconds).
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

	dataURLPrefix = "data:image/jpeg;base64,"
	jpegQuality   = 80
)

// EvictionID returns the id to delete after id was assigned in a store of the
// given capacity, or 0 when nothing is due. Eviction follows the store's own
// id sequence, so gaps left by Clear or DeleteByID never shift it. A store
// therefore keeps exactly capacity entries: saving ids 1..25 with capacity 20
// leaves 6..25.
func EvictionID(id int64, capacity int) int64 {
	victim := id - int64(capacity)
	if victim <= 0 {
		return 0
	}
	return victim
}

// NormalizeTime truncates t to the persisted precision.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func FormatTime(t time.Time) string {
	return NormalizeTime(t).Format(TimestampLayout)
}

func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse snapshot timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// EncodeDataURL renders img as a base64 JPEG data URL. A nil image yields "".
func EncodeDataURL(img image.Image) (string, error) {
	if img == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeDataURL is the inverse of EncodeDataURL.
func DecodeDataURL(s string) (image.Image, error) {
	payload, ok := strings.CutPrefix(s, dataURLPrefix)
	if !ok {
		return nil, fmt.Errorf("not a jpeg data url")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	return img, nil
}

// Size is the number of bytes a snapshot charges against a quota.
func Size(imageURL, screenshotURL string) int64 {
	return int64(len(imageURL) + len(screenshotURL))
}

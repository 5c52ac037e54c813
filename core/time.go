package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EpochTime is a time.Time that travels as integer Unix seconds on the
// wire. Task kwargs and historic witnesses use it so that payloads stay
// byte-stable across serialisation round trips.
type EpochTime struct {
	time.Time
}

// Epoch wraps a time.Time, truncating to second precision.
func Epoch(t time.Time) EpochTime {
	return EpochTime{t.Truncate(time.Second)}
}

// EpochNow returns the current time truncated to second precision.
func EpochNow() EpochTime {
	return Epoch(time.Now().UTC())
}

// MarshalJSON encodes the time as integer Unix seconds. The zero time
// encodes as null.
func (t EpochTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, t.Unix(), 10), nil
}

// UnmarshalJSON accepts integer or fractional Unix seconds as well as
// RFC 3339 strings, so documents produced by earlier collector versions
// still decode.
func (t *EpochTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		parsed, err := time.Parse(`"`+time.RFC3339+`"`, s)
		if err != nil {
			return fmt.Errorf("parse epoch time %q: %w", s, err)
		}
		t.Time = parsed.Truncate(time.Second)
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse epoch time %q: %w", s, err)
	}
	t.Time = time.Unix(int64(secs), 0).UTC()
	return nil
}

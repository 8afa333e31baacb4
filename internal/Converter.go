package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// BoolConverter decodes a JSON boolean that may also be sent as a number or a quoted value
type BoolConverter bool

// UnmarshalJSON implements the json.Unmarshaler interface for BoolConverter
func (b *BoolConverter) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = false
		return nil
	}

	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}

	if parsed, err := strconv.ParseBool(raw); err == nil {
		*b = BoolConverter(parsed)
		return nil
	}
	if num, err := strconv.ParseFloat(raw, 64); err == nil {
		*b = num != 0
		return nil
	}

	return fmt.Errorf("cannot convert %s to bool", data)
}

// MarshalJSON implements the json.Marshaler interface for BoolConverter
func (b BoolConverter) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}

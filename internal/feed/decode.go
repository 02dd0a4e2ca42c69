package feed

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
)

// eventEnvelope is the discriminator peek decoded from every raw event
// before routing to a concrete type.
type eventEnvelope struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
}

// splitFrame turns one websocket frame into its raw events. The feed sends
// either a single JSON object or an array of them.
func splitFrame(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: frame array: %v", ErrParse, err)
		}
		return items, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: frame is neither object nor array", ErrParse)
	}
	return []json.RawMessage{trimmed}, nil
}

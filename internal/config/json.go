package config

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// jsonParser implements koanf.Parser on top of goccy/go-json.
type jsonParser struct{}

// JSONParser returns the koanf parser used for .json configuration files.
func JSONParser() *jsonParser {
	return &jsonParser{}
}

// Unmarshal parses a JSON object into a nested map.
func (p *jsonParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}
	return out, nil
}

// Marshal encodes a nested map as JSON.
func (p *jsonParser) Marshal(o map[string]interface{}) ([]byte, error) {
	return json.Marshal(o)
}

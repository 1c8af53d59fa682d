package opentimetable

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

// The events filter body is a fixed template with a single variable slot:
// the category identity. The template itself is never mutated; each request
// derives a fresh body from it.
//
//go:embed request.json
var requestTemplate []byte

func requestBody(categoryIdentity string) ([]byte, error) {
	if categoryIdentity == "" {
		return nil, fmt.Errorf("opentimetable: empty category identity")
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(requestTemplate, &body); err != nil {
		return nil, fmt.Errorf("opentimetable: bad request template: %w", err)
	}
	ids, err := json.Marshal([]string{categoryIdentity})
	if err != nil {
		return nil, err
	}
	body["CategoryIdentities"] = ids
	return json.Marshal(body)
}

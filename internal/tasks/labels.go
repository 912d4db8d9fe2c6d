package tasks

import (
	"encoding/json"
)

type annotation struct {
	Result []struct {
		Value struct {
			Choices []json.RawMessage `json:"choices"`
		} `json:"value"`
	} `json:"result"`
}

// ExtractLabel returns the first choice of the first choice-bearing result entry in the most recent annotation.
//
// Annotations are assumed to arrive oldest first and choices to be single-select. A non-string choice is returned as
// its JSON literal. Nil means no label.
func ExtractLabel(annotations []json.RawMessage) *string {
	if len(annotations) == 0 {
		return nil
	}

	var last annotation
	if err := json.Unmarshal(annotations[len(annotations)-1], &last); err != nil {
		return nil
	}

	for _, r := range last.Result {
		if len(r.Value.Choices) == 0 {
			continue
		}
		choice := r.Value.Choices[0]
		var s string
		if err := json.Unmarshal(choice, &s); err == nil {
			return &s
		}
		s = string(choice)
		return &s
	}
	return nil
}

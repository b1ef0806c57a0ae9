package claude

import "encoding/json"

// streamMessage is one line of the claude CLI's --output-format stream-json
// output. The CLI emits several message "type"s; we only need enough shape
// to extract text, usage, and tool activity.
type streamMessage struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Result  string          `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
	Usage   *usage          `json:"usage,omitempty"`
	CostUSD *float64        `json:"total_cost_usd,omitempty"`
}

type usage struct {
	InputTokens              *int `json:"input_tokens,omitempty"`
	OutputTokens             *int `json:"output_tokens,omitempty"`
	CacheReadInputTokens     *int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens *int `json:"cache_creation_input_tokens,omitempty"`
}

type innerMessage struct {
	Content []contentBlock `json:"content,omitempty"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

func parseStreamMessage(line []byte) (*streamMessage, error) {
	var msg streamMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// extractToolEvent returns the first tool_use block's name and raw input, if any.
func (m *streamMessage) extractToolEvent() (name string, input string, ok bool) {
	if len(m.Message) == 0 {
		return "", "", false
	}
	var inner innerMessage
	if err := json.Unmarshal(m.Message, &inner); err != nil {
		return "", "", false
	}
	for _, block := range inner.Content {
		if block.Type == "tool_use" {
			return block.Name, string(block.Input), true
		}
	}
	return "", "", false
}

// extractUsage pulls the usage block, if present, either on the message or
// nested in the inner message envelope.
func (m *streamMessage) extractUsage() *usage {
	if m.Usage != nil {
		return m.Usage
	}
	if len(m.Message) == 0 {
		return nil
	}
	var withUsage struct {
		Usage *usage `json:"usage,omitempty"`
	}
	if err := json.Unmarshal(m.Message, &withUsage); err != nil {
		return nil
	}
	return withUsage.Usage
}

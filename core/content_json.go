package core

import (
	"encoding/json"
	"fmt"
)

// wirePart is the JSON shape of a Part. Kind discriminates the closed set.
type wirePart struct {
	Kind             string            `json:"kind"`
	Text             string            `json:"text,omitempty"`
	Data             map[string]any    `json:"data,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

const (
	partKindText             = "text"
	partKindData             = "data"
	partKindFunctionCall     = "function_call"
	partKindFunctionResponse = "function_response"
)

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

// MarshalJSON encodes the content with a kind discriminator per part.
func (c Content) MarshalJSON() ([]byte, error) {
	wc := wireContent{Role: c.Role, Parts: make([]wirePart, 0, len(c.Parts))}

	for _, p := range c.Parts {
		switch v := p.(type) {
		case TextPart:
			wc.Parts = append(wc.Parts, wirePart{Kind: partKindText, Text: v.Text, Metadata: v.Metadata})
		case DataPart:
			wc.Parts = append(wc.Parts, wirePart{Kind: partKindData, Data: v.Data, Metadata: v.Metadata})
		case FunctionCallPart:
			fc := v.FunctionCall
			wc.Parts = append(wc.Parts, wirePart{Kind: partKindFunctionCall, FunctionCall: &fc, Metadata: v.Metadata})
		case FunctionResponsePart:
			fr := v.FunctionResponse
			wc.Parts = append(wc.Parts, wirePart{Kind: partKindFunctionResponse, FunctionResponse: &fr, Metadata: v.Metadata})
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
	}

	return json.Marshal(wc)
}

// UnmarshalJSON decodes content produced by MarshalJSON.
func (c *Content) UnmarshalJSON(b []byte) error {
	var wc wireContent
	if err := json.Unmarshal(b, &wc); err != nil {
		return err
	}

	c.Role = wc.Role
	c.Parts = make([]Part, 0, len(wc.Parts))

	for i, wp := range wc.Parts {
		switch wp.Kind {
		case partKindText:
			c.Parts = append(c.Parts, TextPart{Text: wp.Text, Metadata: wp.Metadata})
		case partKindData:
			c.Parts = append(c.Parts, DataPart{Data: wp.Data, Metadata: wp.Metadata})
		case partKindFunctionCall:
			if wp.FunctionCall == nil {
				return fmt.Errorf("part %d: missing function_call", i)
			}
			c.Parts = append(c.Parts, FunctionCallPart{FunctionCall: *wp.FunctionCall, Metadata: wp.Metadata})
		case partKindFunctionResponse:
			if wp.FunctionResponse == nil {
				return fmt.Errorf("part %d: missing function_response", i)
			}
			c.Parts = append(c.Parts, FunctionResponsePart{FunctionResponse: *wp.FunctionResponse, Metadata: wp.Metadata})
		default:
			return fmt.Errorf("part %d: unknown kind %q", i, wp.Kind)
		}
	}

	return nil
}

package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/model"
)

func TestBuildMessages(t *testing.T) {
	req := model.Request{
		Instructions: "be brief",
		Contents: []core.Content{
			core.NewTextContent(core.RoleUser, "what is 6*7?"),
			{Role: core.RoleAssistant, Parts: []core.Part{
				core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "delegate_to_math", Arguments: `{"description":"6*7"}`}},
			}},
			{Role: core.RoleTool, Parts: []core.Part{
				core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "c1", Name: "delegate_to_math", Response: map[string]any{"result": "42"}}},
			}},
		},
	}

	msgs := buildMessages(req)
	require.Len(t, msgs, 4)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	assert.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
}

func TestResponseText(t *testing.T) {
	assert.Equal(t, "plain", responseText(core.FunctionResponse{Response: "plain"}))
	assert.Equal(t, `{"result":"42"}`, responseText(core.FunctionResponse{Response: map[string]any{"result": "42"}}))
	assert.Equal(t, `{"error":"boom"}`, responseText(core.FunctionResponse{Error: "boom"}))
}

func TestFinalContentOrdersCalls(t *testing.T) {
	c := finalContent("hi", map[int64]*aggCall{
		1: {id: "b", name: "second"},
		0: {id: "a", name: "first"},
	})
	calls := c.FunctionCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "first", calls[0].Name)
	assert.Equal(t, "hi", c.Text())
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *Options) { o.Model = "gpt-test"; o.APIKey = "k" })
	assert.Equal(t, model.Info{Name: "gpt-test", Provider: "openai", SupportsTools: true}, m.Info())
}

package flowrun

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowrun/flowrun/pkg/flowrun/model"
	"github.com/flowrun/flowrun/pkg/flowrun/statesink"
	"github.com/flowrun/flowrun/pkg/flowrun/tool"
)

// TestAcceptance_SupportTicket runs a realistic pipeline end to end:
// classify with a model, route on the classification, research in
// parallel, then draft and refine in a bounded loop.
func TestAcceptance_SupportTicket(t *testing.T) {
	client := &model.MockClient{
		CompleteFunc: func(_ context.Context, req model.Request) (*model.Response, error) {
			switch {
			case strings.Contains(req.Prompt, "Classify"):
				return &model.Response{Content: "billing"}, nil
			case strings.Contains(req.Prompt, "Draft"):
				return &model.Response{Content: "draft reply about billing"}, nil
			default:
				return &model.Response{Content: "ok"}, nil
			}
		},
	}

	tools := tool.NewRegistry()
	tools.RegisterFunc("kb_search", func(_ context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"hits": []any{"kb:" + input["query"].(string)}}, nil
	})
	tools.RegisterFunc("ticket_history", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"previous": 2}, nil
	})

	reviews := 0
	category := func(want string) Predicate {
		return func(ec *ExecContext) bool {
			v, ok := ec.NodeOutput("classify")
			if !ok {
				return false
			}
			return v.(map[string]any)["content"] == want
		}
	}

	def := NewDefinition("support-ticket").
		AddNode(ModelNode("classify", "fast", "Classify this ticket: {{ input.text }}")).
		AddNode(ConditionNode("triage",
			Branch{When: category("billing"), Target: "research"},
		).WithOtherwise("escalate")).
		AddNode(ToolNode("kb", "kb_search", map[string]any{
			"query": "{{ nodes.classify.output.content }}",
		})).
		AddNode(ToolNode("history", "ticket_history", nil)).
		AddNode(ParallelNode("research", ParallelSpec{
			Branches: []BranchSpec{
				{Name: "kb", Entry: "kb"},
				{Name: "history", Entry: "history"},
			},
			Policy: FailPartial,
		})).
		AddNode(ModelNode("draft", "smart", "Draft a reply using {{ nodes.kb.output.hits }}")).
		AddNode(CustomNode("review", func(_ context.Context, ec *ExecContext) (any, error) {
			reviews++
			return map[string]any{"approved": reviews >= 2}, nil
		})).
		AddNode(CustomNode("escalate", func(_ context.Context, _ *ExecContext) (any, error) {
			return "escalated", nil
		})).
		AddNode(CustomNode("send", func(_ context.Context, ec *ExecContext) (any, error) {
			v, _ := ec.NodeOutput("draft")
			return "sent: " + v.(map[string]any)["content"].(string), nil
		})).
		AddEdge("classify", "triage").
		AddEdge("research", "draft").
		AddEdge("draft", "review").
		AddEdgeWhen("review", "draft", func(_ *ExecContext) bool { return true }).
		AddLoop(LoopSpec{
			ID:      "refine",
			Members: []string{"draft", "review"},
			Exit: func(ec *ExecContext) bool {
				v, ok := ec.NodeOutput("review")
				return ok && v.(map[string]any)["approved"] == true
			},
			MaxIterations: 4,
			After:         "send",
		}).
		SetEntry("classify")
	wf := mustCompile(t, def)

	sink := statesink.NewMemorySink()
	eng := New(wf,
		WithModelClient(client),
		WithTools(tools),
		WithStateSink(sink),
	)

	result, err := eng.Execute(testCtx(t), map[string]any{
		"text": "I was charged twice",
	}, WithRunID("ticket-7"))

	require.NoError(t, err)
	assert.Equal(t, "sent: draft reply about billing", result.Output)
	assert.Equal(t, []string{
		"classify", "triage", "research", "kb", "history",
		"draft", "review", "draft", "review", "send",
	}, result.Path)
	assert.Equal(t, 2, reviews)

	records := sink.Records("ticket-7")
	require.NotEmpty(t, records)
	last := records[len(records)-1]
	assert.Equal(t, "send", last.NodeID)
	assert.Equal(t, len(records), last.Sequence)
}

// TestAcceptance_FallbackKeepsPipelineAlive tests a flaky primary model
// node falling back without breaking downstream references.
func TestAcceptance_FallbackKeepsPipelineAlive(t *testing.T) {
	client := &model.MockClient{
		CompleteFunc: func(_ context.Context, req model.Request) (*model.Response, error) {
			if req.Model == "premium" {
				return nil, context.DeadlineExceeded
			}
			return &model.Response{Content: "cheap answer"}, nil
		},
	}

	def := NewDefinition("degrade").
		AddNode(ModelNode("answer", "premium", "Answer: {{ input.q }}").
			WithRetry(RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}).
			WithFallback("answer_cheap")).
		AddNode(ModelNode("answer_cheap", "basic", "Answer: {{ input.q }}")).
		AddNode(CustomNode("format", func(_ context.Context, ec *ExecContext) (any, error) {
			v, _ := ec.NodeOutput("answer")
			return "* " + v.(map[string]any)["content"].(string), nil
		})).
		AddEdge("answer", "format").
		SetEntry("answer")
	wf := mustCompile(t, def)

	result, err := New(wf, WithModelClient(client)).Execute(testCtx(t), map[string]any{"q": "why"})

	require.NoError(t, err)
	assert.Equal(t, "* cheap answer", result.Output)
	assert.Equal(t, []string{"answer", "answer_cheap", "format"}, result.Path)
}

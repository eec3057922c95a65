package session

import (
	"context"
	"fmt"

	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/core/types"
	"github.com/vango-go/vai-agents/pkg/tools"
	"github.com/vango-go/vai-agents/pkg/transcript"
)

func (s *Session) onFunctionCall(call types.FunctionCall) {
	agentName := s.ActiveAgent()
	if target, ok := s.graph.HandoffTarget(call.Name); ok {
		s.handoff(agentName, target, call)
		return
	}
	s.goAsync(func(ctx context.Context) {
		s.runTool(ctx, agentName, call)
	})
}

// handoff validates the edge, swaps the active agent through a typed
// AgentHandoff event and lets the new agent continue the turn.
func (s *Session) handoff(from, to string, call types.FunctionCall) {
	if !s.graph.CanHandoff(from, to) {
		s.logger.Warn("handoff rejected", "agent", from, "target", to)
		res := tools.Result{Err: &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: fmt.Sprintf("agent %q cannot transfer to %q", from, to),
			Code:    "handoff_not_permitted",
		}}
		s.completeCall(s.ctx, call, res)
		return
	}
	s.Dispatch(types.Synthetic(types.AgentHandoff{From: from, To: to}))
	s.completeCall(s.ctx, call, tools.Result{Output: map[string]any{"assistant": to}})
}

func (s *Session) runTool(ctx context.Context, agentName string, call types.FunctionCall) {
	a, _ := s.graph.Agent(agentName)
	if !a.HasTool(call.Name) {
		res := tools.Result{Err: &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: fmt.Sprintf("tool %q is not available to agent %q", call.Name, agentName),
			Code:    "unknown_tool",
		}}
		s.logger.Warn("tool call rejected", "agent", agentName, "tool", call.Name)
		s.completeCall(ctx, call, res)
		return
	}

	s.Dispatch(types.Synthetic(types.ToolCallStart{Agent: agentName, Call: call}))

	toolCtx, cancel := context.WithTimeout(ctx, s.cfg.ToolTimeout)
	defer cancel()
	tc := &tools.Context{
		SessionID:     s.id,
		Agent:         agentName,
		History:       s.history(),
		State:         s.state,
		AddBreadcrumb: s.addBreadcrumb,
	}
	start := s.now()
	res := s.graph.Library().Execute(toolCtx, call.Name, call.Arguments, tc)
	s.metrics.RecordToolCall(agentName, call.Name, res.OK(), s.now().Sub(start))

	if !s.alive() {
		return
	}
	if res.Err != nil {
		s.logger.Info("tool call failed", "agent", agentName, "tool", call.Name, "error", res.Err)
	}
	var result any = res.Output
	if res.Err != nil {
		result = res.Err
	}
	s.Dispatch(types.Synthetic(types.ToolCallEnd{Agent: agentName, Call: call, Result: result, Failed: res.Err != nil}))
	s.completeCall(ctx, call, res)
}

// completeCall returns the tool result to the model and asks it to continue.
func (s *Session) completeCall(ctx context.Context, call types.FunctionCall, res tools.Result) {
	if err := s.send(ctx, types.CreateConversationItem{Item: types.FunctionCallOutput(call.CallID, res.JSON())}); err != nil {
		return
	}
	_ = s.send(ctx, types.RequestResponse{})
}

// runGuardrail classifies a finalized assistant message once.
func (s *Session) runGuardrail(itemID, text string) {
	if s.guardrail == nil {
		return
	}
	s.mu.Lock()
	if _, done := s.guarded[itemID]; done {
		s.mu.Unlock()
		return
	}
	s.guarded[itemID] = struct{}{}
	agentName := s.active
	s.mu.Unlock()

	s.goAsync(func(ctx context.Context) {
		out := s.guardrail.Run(ctx, text)
		if !s.alive() {
			return
		}
		if !out.TripwireTriggered {
			s.store.AnnotateGuardrail(itemID, transcript.GuardrailResult{
				Status:    transcript.StatusDone,
				Category:  string(out.Classification.Category),
				Rationale: out.Classification.Rationale,
				TestText:  out.TestText,
			})
			return
		}
		s.Dispatch(types.Synthetic(types.GuardrailTripped{
			ItemID:    itemID,
			Agent:     agentName,
			Category:  string(out.Classification.Category),
			Rationale: out.Classification.Rationale,
			TestText:  out.TestText,
		}))
	})
}

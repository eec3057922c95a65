package session

import (
	"fmt"

	"github.com/vango-go/vai-agents/pkg/core/types"
	"github.com/vango-go/vai-agents/pkg/eventlog"
	"github.com/vango-go/vai-agents/pkg/realtime"
	"github.com/vango-go/vai-agents/pkg/transcript"
)

// Dispatch records in as exactly one server event and applies its transcript
// semantics. Session-generated events (tool brackets, handoffs, guardrail
// trips) take the same path. After Close it does nothing.
func (s *Session) Dispatch(in types.Inbound) {
	if !s.alive() {
		return
	}
	name := in.Name
	if name == "" && in.Event != nil {
		name = in.Event.EventName()
	}
	var payload any = in.Payload
	if itemID, audio, ok := realtime.AudioDelta(in); ok {
		payload = map[string]any{"type": name, "item_id": itemID, "delta": fmt.Sprintf("<%d base64 chars>", len(audio))}
	}
	s.log.Record(eventlog.DirectionServer, name, payload)
	s.metrics.RecordEvent(string(eventlog.DirectionServer))

	switch ev := in.Event.(type) {
	case types.HistoryAdded:
		s.onHistoryAdded(ev.Item)
	case types.HistoryUpdated:
		for _, item := range ev.Items {
			s.onHistoryUpdated(item)
		}
	case types.TranscriptionDelta:
		s.onDelta(ev)
	case types.TranscriptionCompleted:
		s.onCompleted(ev)
	case types.FunctionCall:
		s.onFunctionCall(ev)
	case types.ToolCallStart:
		s.addBreadcrumb("function call: "+ev.Call.Name, decodeJSON(ev.Call.Arguments))
	case types.ToolCallEnd:
		s.addBreadcrumb("function call result: "+ev.Call.Name, ev.Result)
	case types.AgentHandoff:
		s.onAgentHandoff(ev)
	case types.GuardrailTripped:
		s.onGuardrailTripped(ev)
	case types.TransportFailure:
		s.logger.Warn("realtime error event", "code", ev.Code, "message", ev.Message)
	case types.Opaque:
		if ev.Reason != "" {
			s.logger.Warn("malformed realtime event recorded only", "event", name, "reason", ev.Reason)
		}
	}
}

func (s *Session) onHistoryAdded(item types.HistoryItem) {
	if item.Type != types.ItemTypeMessage || item.ItemID == "" {
		return
	}

	s.mu.Lock()
	_, isCorrective := s.corrective[item.ItemID]
	_, isHidden := s.hidden[item.ItemID]
	s.mu.Unlock()

	if isCorrective {
		s.addBreadcrumb("Output Guardrail Active", map[string]any{
			"item_id": item.ItemID,
			"text":    item.Text(),
		})
		return
	}
	if item.Role != types.RoleUser && item.Role != types.RoleAssistant {
		return
	}

	text := item.Text()
	s.store.InsertMessage(item.ItemID, item.Role, text, isHidden)
	if item.Role == types.RoleAssistant && item.Status == "completed" && text != "" {
		s.completeAssistant(item.ItemID, text)
	}
}

func (s *Session) onHistoryUpdated(item types.HistoryItem) {
	if !item.IsMessage() || item.ItemID == "" || s.isCorrective(item.ItemID) {
		return
	}
	text := item.Text()
	if text == "" {
		return
	}
	if item.Role == types.RoleAssistant && item.Status == "completed" {
		s.completeAssistant(item.ItemID, text)
		return
	}
	_ = s.store.ReplaceText(item.ItemID, text)
}

func (s *Session) onDelta(ev types.TranscriptionDelta) {
	if s.isCorrective(ev.ItemID) {
		return
	}
	if err := s.store.AppendDelta(ev.ItemID, ev.Delta); err != nil {
		return
	}
	if ev.Role != types.RoleAssistant || s.guardrail == nil {
		return
	}
	s.mu.Lock()
	_, seen := s.pending[ev.ItemID]
	s.pending[ev.ItemID] = struct{}{}
	s.mu.Unlock()
	if !seen {
		_ = s.store.MarkGuardrailPending(ev.ItemID, "")
	}
}

func (s *Session) onCompleted(ev types.TranscriptionCompleted) {
	if s.isCorrective(ev.ItemID) {
		return
	}
	if ev.Role == types.RoleAssistant {
		s.completeAssistant(ev.ItemID, ev.Transcript)
		return
	}
	_ = s.store.FinalizeWithText(ev.ItemID, ev.Transcript)
}

// completeAssistant finalizes an assistant message and submits it to the
// guardrail exactly once.
func (s *Session) completeAssistant(itemID, text string) {
	if err := s.store.FinalizeWithText(itemID, text); err != nil {
		return
	}
	entry, ok := s.store.Entry(itemID)
	if !ok {
		return
	}
	s.runGuardrail(itemID, entry.Text)
}

func (s *Session) isCorrective(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.corrective[id]
	return ok
}

func (s *Session) onAgentHandoff(ev types.AgentHandoff) {
	target, ok := s.graph.Agent(ev.To)
	if !ok {
		s.logger.Warn("handoff to unknown agent ignored", "agent", ev.To)
		return
	}
	s.mu.Lock()
	s.active = target.Name
	s.mu.Unlock()

	s.metrics.RecordHandoff(ev.From, ev.To)
	s.logger.Info("agent handoff", "from", ev.From, "to", ev.To)
	s.addBreadcrumb("Agent: "+target.Name, target.Snapshot())
	_ = s.send(s.ctx, s.sessionConfig(target.Name))
}

func (s *Session) onGuardrailTripped(ev types.GuardrailTripped) {
	targetID := ev.ItemID
	if _, ok := s.store.Entry(targetID); !ok {
		last, found := s.store.LastAssistantMessage()
		if !found {
			s.logger.Warn("guardrail tripped with no assistant message", "category", ev.Category)
			return
		}
		targetID = last.ID
	}
	s.store.AnnotateGuardrail(targetID, transcript.GuardrailResult{
		Status:    transcript.StatusDone,
		Category:  ev.Category,
		Rationale: ev.Rationale,
		TestText:  ev.TestText,
		Tripped:   true,
	})
	s.injectCorrective(ev)
}

// injectCorrective asks the agent to retract flagged output. The item id is
// registered before sending so the echo is tagged SYSTEM_CORRECTIVE.
func (s *Session) injectCorrective(ev types.GuardrailTripped) {
	id := s.newID()
	s.mu.Lock()
	s.corrective[id] = struct{}{}
	s.mu.Unlock()

	text := fmt.Sprintf(
		"Your previous response was flagged by the output guardrail (category: %s). Rationale: %s. "+
			"Do not repeat that content. Briefly apologize to the user and continue the conversation appropriately.",
		ev.Category, ev.Rationale)
	item := types.HistoryItem{
		ItemID:  id,
		Type:    types.ItemTypeMessage,
		Role:    types.RoleSystem,
		Content: []types.ContentPart{{Type: types.ContentInputText, Text: text}},
	}
	if err := s.send(s.ctx, types.CreateConversationItem{Item: item}); err != nil {
		return
	}
	_ = s.send(s.ctx, types.RequestResponse{})
}

// MessageKind reports the message kind the session assigned to id.
func (s *Session) MessageKind(id string) types.MessageKind {
	if s.isCorrective(id) {
		return types.KindSystemCorrective
	}
	if e, ok := s.store.Entry(id); ok && e.Kind == transcript.KindMessage {
		return e.MessageKind
	}
	return ""
}

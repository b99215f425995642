package session

import (
	"context"

	"github.com/MrWong99/finvoice/internal/glossary"
	"github.com/MrWong99/finvoice/internal/observe"
	"github.com/MrWong99/finvoice/internal/tools"
	"github.com/MrWong99/finvoice/pkg/realtime"
	"github.com/MrWong99/finvoice/pkg/transcript"
)

// Transcript placeholders.
const (
	TranscribingPlaceholder = "[Transcribing...]"
	InaudibleMarker         = "[inaudible]"
)

// greeting is the simulated first user turn that makes the agent open the
// conversation.
const greeting = "hi"

// handleMessage applies one inbound server event. A malformed event is
// logged and dropped without affecting the session.
func (o *Orchestrator) handleMessage(ctx context.Context, raw []byte) {
	evt, err := realtime.ParseServerEvent(raw)
	if err != nil {
		o.metrics.RecordServerEvent(ctx, "invalid")
		o.log.Warn("session: dropping malformed server event", "err", err, "bytes", len(raw))
		return
	}
	ctx = observe.WithSession(ctx, o.remoteID)
	o.metrics.RecordServerEvent(ctx, evt.Type)
	o.log.Debug("session: server event", "type", evt.Type, "event_id", evt.EventID, "session_id", o.remoteID)

	switch evt.Type {
	case realtime.TypeSessionCreated:
		o.onSessionCreated(ctx, evt)
	case realtime.TypeConversationItemCreated:
		o.onItemCreated(evt)
	case realtime.TypeTranscriptionCompleted:
		if evt.ItemID == "" {
			return
		}
		text := evt.Transcript
		if text == "" || text == "\n" {
			text = InaudibleMarker
		} else if o.cfg.Corrector != nil {
			var fixes []glossary.Correction
			if text, fixes = o.cfg.Corrector.Correct(text); len(fixes) > 0 {
				o.log.Debug("session: transcription corrected", "item_id", evt.ItemID, "corrections", len(fixes))
			}
		}
		o.cfg.Transcript.UpdateMessage(evt.ItemID, text, false)
	case realtime.TypeAudioTranscriptDelta:
		if evt.ItemID != "" {
			o.cfg.Transcript.UpdateMessage(evt.ItemID, evt.Delta, true)
		}
	case realtime.TypeResponseDone:
		o.onResponseDone(ctx, evt)
	case realtime.TypeResponseOutputItemDone:
		if evt.Item != nil && evt.Item.ID != "" {
			o.cfg.Transcript.UpdateStatus(evt.Item.ID, transcript.StatusDone)
		}
	case realtime.TypeError:
		msg := "unknown error"
		data := map[string]any{}
		if evt.Error != nil {
			msg = evt.Error.Message
			data["type"] = evt.Error.Type
			if evt.Error.Code != "" {
				data["code"] = evt.Error.Code
			}
		}
		o.log.Warn("session: server error", "message", msg)
		o.cfg.Transcript.AddEvent("Server error: "+msg, data)
	}
}

func (o *Orchestrator) onSessionCreated(ctx context.Context, evt realtime.ServerEvent) {
	if evt.Session == nil || evt.Session.ID == "" {
		return
	}
	o.remoteID = evt.Session.ID
	ctx = observe.WithSession(ctx, o.remoteID)
	o.setStatus(ctx, StatusConnected)
	o.cfg.Transcript.AddEvent("Connected to session: "+evt.Session.ID, nil)
	if err := o.sendUserText(ctx, greeting); err != nil {
		o.log.Warn("session: greeting not sent", "err", err)
	}
}

func (o *Orchestrator) onItemCreated(evt realtime.ServerEvent) {
	item := evt.Item
	if item == nil || item.ID == "" || item.Role == "" {
		return
	}
	var text string
	if len(item.Content) > 0 {
		text = item.Content[0].Text
		if text == "" {
			text = item.Content[0].Transcript
		}
	}
	role := transcript.Role(item.Role)
	if role == transcript.RoleUser && text == "" {
		text = TranscribingPlaceholder
	}
	o.cfg.Transcript.AddMessage(item.ID, role, text)
}

// onResponseDone hands every complete function call of the response to the
// dispatcher, in output order. Calls left once Disconnect cancelled the
// batch are dropped with the session.
func (o *Orchestrator) onResponseDone(ctx context.Context, evt realtime.ServerEvent) {
	if evt.Response == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	o.setToolsCancel(cancel)
	defer func() {
		o.setToolsCancel(nil)
		cancel()
	}()
	for _, item := range evt.Response.Output {
		if item.Type != "function_call" || item.Name == "" || item.Arguments == "" {
			continue
		}
		if ctx.Err() != nil {
			o.log.Info("session: tool call dropped", "tool", item.Name, "call_id", item.CallID)
			continue
		}
		call := tools.Call{Name: item.Name, CallID: item.CallID, Arguments: item.Arguments}
		if err := o.cfg.Tools.Dispatch(ctx, call, o.materialize(ctx), channelSender{o}); err != nil {
			o.log.Warn("session: tool result not delivered", "tool", call.Name, "call_id", call.CallID, "err", err)
		}
	}
}

package convo

import (
	"encoding/json"

	"github.com/talentloop/convo/pkg/model"
)

// Dispatcher routes fanned-out events to registered callbacks. Callbacks
// fire after the thread has already reconciled the event, so reading the
// thread from inside one sees the post-event state.
type Dispatcher struct {
	onInserted    func(model.Message)
	onUpdated     func(model.Message)
	onDeleted     func(int64)
	onReaction    func(model.ReactionDelta)
	onTyping      func(model.TypingEvent)
	onReadReceipt func(model.ReadReceipt)
	onError       func(error)
}

func (d *Dispatcher) SetOnMessageInserted(fn func(model.Message))  { d.onInserted = fn }
func (d *Dispatcher) SetOnMessageUpdated(fn func(model.Message))   { d.onUpdated = fn }
func (d *Dispatcher) SetOnMessageDeleted(fn func(int64))           { d.onDeleted = fn }
func (d *Dispatcher) SetOnReaction(fn func(model.ReactionDelta))   { d.onReaction = fn }
func (d *Dispatcher) SetOnTyping(fn func(model.TypingEvent))       { d.onTyping = fn }
func (d *Dispatcher) SetOnReadReceipt(fn func(model.ReadReceipt))  { d.onReadReceipt = fn }
func (d *Dispatcher) SetOnError(fn func(error))                    { d.onError = fn }

func (d *Dispatcher) Dispatch(ev model.Event) {
	switch ev.Kind {
	case model.KindMessageInserted:
		if d.onInserted == nil {
			return
		}
		var msg model.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			d.fireError(WrapError(ErrorSerialization, "failed to unmarshal inserted message", err))
			return
		}
		d.onInserted(msg)
	case model.KindMessageUpdated:
		if d.onUpdated == nil {
			return
		}
		var msg model.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			d.fireError(WrapError(ErrorSerialization, "failed to unmarshal updated message", err))
			return
		}
		d.onUpdated(msg)
	case model.KindMessageDeleted:
		if d.onDeleted == nil {
			return
		}
		var del model.MessageDeleted
		if err := json.Unmarshal(ev.Payload, &del); err != nil {
			d.fireError(WrapError(ErrorSerialization, "failed to unmarshal delete event", err))
			return
		}
		d.onDeleted(del.ID)
	case model.KindReactionChanged:
		if d.onReaction == nil {
			return
		}
		var delta model.ReactionDelta
		if err := json.Unmarshal(ev.Payload, &delta); err != nil {
			d.fireError(WrapError(ErrorSerialization, "failed to unmarshal reaction delta", err))
			return
		}
		d.onReaction(delta)
	case model.KindTyping:
		if d.onTyping == nil {
			return
		}
		var typing model.TypingEvent
		if err := json.Unmarshal(ev.Payload, &typing); err != nil {
			d.fireError(WrapError(ErrorSerialization, "failed to unmarshal typing event", err))
			return
		}
		d.onTyping(typing)
	case model.KindReadReceipt:
		if d.onReadReceipt == nil {
			return
		}
		var receipt model.ReadReceipt
		if err := json.Unmarshal(ev.Payload, &receipt); err != nil {
			d.fireError(WrapError(ErrorSerialization, "failed to unmarshal read receipt", err))
			return
		}
		d.onReadReceipt(receipt)
	}
}

func (d *Dispatcher) fireError(err error) {
	if d.onError != nil && err != nil {
		d.onError(err)
	}
}

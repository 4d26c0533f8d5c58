package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

func TestEventBus_EmitFansOutInOrder(t *testing.T) {
	bus := New(nil)

	var got []string
	bus.Subscribe("first", func(_ context.Context, ev model.TradeEvent) error {
		got = append(got, "first:"+ev.Transition)
		return nil
	})
	bus.Subscribe("second", func(_ context.Context, ev model.TradeEvent) error {
		got = append(got, "second:"+ev.Transition)
		return nil
	})

	bus.Emit(context.Background(), model.NewTradeEvent(model.EntityRFQ, "r1", "rfq.sent", nil))

	assert.Equal(t, []string{"first:rfq.sent", "second:rfq.sent"}, got)
}

func TestEventBus_EntityFilter(t *testing.T) {
	bus := New(nil)

	var payments int
	bus.SubscribeEntity(model.EntityPayment, "payments", func(context.Context, model.TradeEvent) error {
		payments++
		return nil
	})

	bus.Emit(context.Background(), model.NewTradeEvent(model.EntityDeal, "d1", "deal.opened", nil))
	bus.Emit(context.Background(), model.NewTradeEvent(model.EntityPayment, "p1", "payment.created", nil))

	assert.Equal(t, 1, payments)
	assert.True(t, bus.HasSubscribers(model.EntityPayment))
	assert.False(t, bus.HasSubscribers(model.EntityDeal))
}

func TestEventBus_FailuresAreIsolated(t *testing.T) {
	bus := New(nil)

	var failed []string
	bus.OnError(func(sub string, _ model.TradeEvent, _ error) { failed = append(failed, sub) })

	delivered := false
	bus.Subscribe("broken", func(context.Context, model.TradeEvent) error { return errors.New("down") })
	bus.Subscribe("panicky", func(context.Context, model.TradeEvent) error { panic("boom") })
	bus.Subscribe("healthy", func(context.Context, model.TradeEvent) error {
		delivered = true
		return nil
	})

	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), model.NewTradeEvent(model.EntityOffer, "o1", "offer.accepted", nil))
	})
	assert.True(t, delivered)
	assert.Equal(t, []string{"broken", "panicky"}, failed)
	assert.Equal(t, 3, bus.SubscriberCount(model.EntityOffer))
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Emit(context.Background(), model.NewTradeEvent(model.EntityRFQ, "r1", "rfq.created", nil))
	r.Emit(context.Background(), model.NewTradeEvent(model.EntityRFQ, "r1", "rfq.sent", nil))

	assert.Equal(t, []string{"rfq.created", "rfq.sent"}, r.Transitions())
	assert.Len(t, r.Events(), 2)

	r.Reset()
	assert.Empty(t, r.Events())
}

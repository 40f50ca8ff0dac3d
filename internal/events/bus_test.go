package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/langchou/drivesentry/internal/events"
	"github.com/langchou/drivesentry/internal/models"
)

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	bus := events.NewBus()

	var got []models.Event
	bus.Subscribe(models.EventDrivingStarted, func(e models.Event) {
		got = append(got, e)
	})

	bus.Publish(models.DrivingStarted{Speed: 10})
	bus.Publish(models.DrivingStopped{}) // 其他类型不投递

	assert.Len(t, got, 1)
	assert.Equal(t, 10.0, got[0].(models.DrivingStarted).Speed)
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := events.NewBus()

	var kinds []models.EventType
	bus.SubscribeAll(func(e models.Event) {
		kinds = append(kinds, e.Kind())
	})

	bus.Publish(models.DrivingStarted{Speed: 5})
	bus.Publish(models.PhonePickedUp{})
	bus.Publish(models.AlertDeactivated{Duration: 1})

	assert.Equal(t, []models.EventType{
		models.EventDrivingStarted,
		models.EventPhonePickedUp,
		models.EventAlertDeactivated,
	}, kinds)
}

func TestCancelIsIdempotent(t *testing.T) {
	bus := events.NewBus()

	count := 0
	cancel := bus.Subscribe(models.EventPhonePutDown, func(models.Event) { count++ })

	bus.Publish(models.PhonePutDown{})
	cancel()
	cancel()
	bus.Publish(models.PhonePutDown{})

	assert.Equal(t, 1, count)
}

func TestHandlerMaySubscribeDuringPublish(t *testing.T) {
	bus := events.NewBus()

	nested := 0
	bus.Subscribe(models.EventDrivingStarted, func(models.Event) {
		// 发布过程中再订阅不会死锁
		bus.Subscribe(models.EventDrivingStopped, func(models.Event) { nested++ })
	})

	bus.Publish(models.DrivingStarted{})
	bus.Publish(models.DrivingStopped{})

	assert.Equal(t, 1, nested)
}

func TestMultipleSubscribersSameKind(t *testing.T) {
	bus := events.NewBus()

	first, second := 0, 0
	bus.Subscribe(models.EventAlertActivated, func(models.Event) { first++ })
	bus.Subscribe(models.EventAlertActivated, func(models.Event) { second++ })

	bus.Publish(models.AlertActivated{Variant: models.VariantA})

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

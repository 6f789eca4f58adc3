// Package progress implements the Bubble Tea screen that follows one
// migration run: phase, progress bar, counters, warnings and a live tail of
// the tool's output.
package progress

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"skyport/internal/domain"
)

// EventBusMsg wraps a domain.Event from the EventBus subscription.
type EventBusMsg struct {
	Event domain.Event
}

// clockMsg refreshes the elapsed time while the run is in progress.
type clockMsg struct{}

// Forward subscribes to every bus event and hands migration and process
// events to send. Subscribe before starting the run so that no early event
// is missed; send may block until the program is running.
func Forward(bus domain.EventBus, send func(tea.Msg)) (unsubscribe func()) {
	return bus.SubscribeAll(func(_ context.Context, event domain.Event) {
		switch event.Type {
		case domain.EventProcessOutput,
			domain.EventMigrationStarted,
			domain.EventMigrationState,
			domain.EventMigrationFinished:
			send(EventBusMsg{Event: event})
		}
	})
}

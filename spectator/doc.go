// Package spectator provides the typed event bus observers use to follow a
// dialogue or replay.
//
// Observers are registered on a Bus, optionally filtered by event type, and
// receive events synchronously in the order the publisher produced them.
// Delivery is isolated: an observer that returns an error or panics is logged
// and skipped, and never prevents delivery to the remaining observers or
// affects the publisher.
//
// Example:
//
//	bus := spectator.New(func(o *spectator.Options) {
//	    o.Logger = logger
//	})
//	id, _ := bus.Subscribe(spectator.Handlers{
//	    OnTurnEnd: func(ctx context.Context, e core.Event, p core.TurnEndPayload) {
//	        fmt.Println(p.Exchange.Response)
//	    },
//	})
//	defer bus.Unsubscribe(id)
package spectator

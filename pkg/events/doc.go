/*
Package events provides an in-memory, non-blocking pub/sub broker used to
decouple the pieces of teltubby that need to notify a chat without calling
into pkg/bot directly: the ingestion pipeline (unit committed/rejected), the
queue worker (job completed/failed/cancelled, session held), and the quota
gate (opened/closed).

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:   events.EventJobCompleted,
		ChatID: job.ChatID,
		JobID:  job.ID,
	})

Each binary runs one subscriber: pkg/bot's Handler.ConsumeEvents in the
bot process and consumeEvents in cmd/teltubby-worker; both turn events
back into chat messages. Publish never blocks on a
slow or absent subscriber — a full subscriber buffer drops the event rather
than stalling the publisher.
*/
package events

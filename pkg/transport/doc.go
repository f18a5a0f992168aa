/*
Package transport implements both chat protocols teltubby speaks to
Telegram.

BotTransport is the inline path (C5): a long-polling bot-API client that
resolves incoming private-chat messages into pkg/types.MessageUnit values,
implements pkg/ingest.Fetcher for items routed inline, and sends archival
acks and admin notifications back to chats.

UserTransport is the queue-worker path (C8): an MTProto session, reused
across jobs, that implements pkg/worker.Fetcher by re-resolving a job's
(chat_id, message_id) into a fresh file location rather than trusting the
bot protocol's file_id, which belongs to a different, shorter-lived
namespace.

Only the bot's own curator/admin whitelists gate admission (checked by
IsCurator/IsAdmin); authenticating the user-protocol session itself happens
out-of-band before the worker process starts, matching this system's
single-operator deployment model.
*/
package transport

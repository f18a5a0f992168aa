/*
Package bot wires the bot-protocol transport (pkg/transport), the album
aggregator (pkg/aggregator), and the ingestion pipeline (pkg/ingest) into
one long-polling loop.

Every resolved unit is submitted to the aggregator; its close callback
commits the unit through the pipeline and replies to the originating chat
with the structured ack rendered as plain text. Non-private chats and
non-curator senders are silently dropped per §7's admission rules; admin
slash commands (/retry, /cancel, /job, /status, /db_maint) additionally
require admin rank and reply with a denial rather than being dropped,
since an admin-gated command was addressed to the bot directly.
*/
package bot

/*
Package log provides structured logging for teltubby using zerolog.

It wraps zerolog to give every component a JSON-structured logger with a
configurable level, console or JSON output, and helper constructors for the
context fields that recur across the archival pipeline: chat, job, and
unit (message/album).

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component and context loggers:

	ingestLog := log.WithComponent("ingest")
	ingestLog.Info().Msg("pipeline starting")

	chatLog := log.WithChatID(chatID)
	chatLog.Warn().Msg("curator not recognized")

	jobLog := log.WithJobID(job.ID)
	jobLog.Error().Err(err).Msg("upload failed, retrying")

# Log levels

Debug is for local troubleshooting only; Info is the default production
level; Warn flags conditions worth a human's attention (quota gate closed,
album fragmented by a late arrival); Error marks a failed operation; Fatal
exits the process and is reserved for startup failures (cannot open the
BoltDB file, cannot reach the object store on boot).

# Design

A single package-level Logger is initialized once in main() and read from
everywhere; child loggers created with .With() carry their context fields
on every subsequent call without the caller re-specifying them. Never log
the bot token, S3 credentials, or AMQP URL — redact before calling Init
with operator-supplied output.

# See also

  - https://github.com/rs/zerolog
*/
package log

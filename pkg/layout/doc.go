/*
Package layout is the name & layout builder (C3): pure functions, no I/O,
that turn a message's context into the bucket key prefix and per-item
filename every uploaded object is stored under.

# Key prefix

	teltubby/{YYYY}/{MM}/{chat_slug}/{message_id}/

# Filename

	YYYYMMDD-HHMMSS_{chat_or_source}_{sender}_m{message_id}[-g{group_id}]_{NNN}_{caption-6-words}.{ext}

Slug folds non-ASCII to ASCII via NFKD decomposition
(golang.org/x/text/unicode/norm) plus combining-mark removal
(golang.org/x/text/transform), lowercases, keeps [a-z0-9._-], and
collapses runs of separators. CaptionSnippet reuses Slug and keeps the
first N words.

Filename is capped at MaxFilenameLen (120) and BuildKey additionally caps
the full key at MaxKeyLen (512), always preserving the original file
extension rather than truncating into it.
*/
package layout

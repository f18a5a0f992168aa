/*
Package aggregator is the album aggregator (C4): it turns a stream of
per-message units into fully-formed album units with stable ordinals,
without waiting indefinitely.

A unit with no media_group_id is its own unit, emitted immediately. A unit
that carries a group id opens (or extends) a bucket keyed by
(chat_id, media_group_id) and starts a timer of the configured window
(default 2s). The bucket closes — and Emit fires — when the timer fires or
the sentinel max-items count is reached. A late arrival after a bucket has
already closed once starts a brand new bucket under the same key and is
tagged in its Notes as a fragment rather than merged back in, per the
resolved open question (see DESIGN.md).

Within one bucket, items are appended in arrival order and that order
fixes their final ordinal; across buckets there is no ordering guarantee.
Multiple groups aggregate fully in parallel — the only thing serialized is
mutation of a single group's bucket, under Aggregator's own mutex.
*/
package aggregator

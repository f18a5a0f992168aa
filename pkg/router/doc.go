/*
Package router is the size router (C6): it classifies one item as inline
(bot-protocol path) or queue (worker path).

The declared size hint is untrusted, so it only ever short-circuits the
obviously-oversize case (hint above the inline limit routes to queue
immediately, no probe needed). Everything else goes through Prober.Probe,
a cheap metadata-only transport call; a refusal classified as ErrTooBig
also routes to queue. Probe must be idempotent — the pipeline may call it
more than once for the same item across a crash/retry.
*/
package router

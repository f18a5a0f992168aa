/*
Package ingest implements the ingestion pipeline (C5): the per-unit
algorithm that turns one aggregated MessageUnit into stored objects, a
dedup index update, and a message.json commit artifact.

Process runs, in order: admission against the quota gate; pre-validation
and routing of every item (oversize-configured items are marked skip,
the rest routed inline or queue via pkg/router); one key prefix computed
for the whole unit via pkg/layout; per-item fast-path dedup by transport
unique id, fetch-and-hash to a spooled temp file, slow-path dedup by
SHA-256, upload-and-register; and finally the message.json write, which
is the unit's commit point. An item that fails pre-validation or routing
rejects the whole unit before anything is uploaded. Past that point a unit
commits with whatever succeeded — a failed upload of one item never aborts
the unit, and a metadata write failure never rolls back items already
uploaded.

Process depends on three small capability interfaces rather than
concrete packages it would otherwise import directly: Fetcher (transport
probe + stream, satisfied by pkg/transport), QuotaGate (satisfied by
pkg/quota), and Enqueuer (C7's enqueue operation, satisfied by
pkg/queue). This keeps the pipeline testable against fakes without
pulling in a real broker or bot session.
*/
package ingest

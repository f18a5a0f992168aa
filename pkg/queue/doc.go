/*
Package queue is the job queue client (C7): a durable topology (one main
exchange routing to queue large_files, a dead-letter exchange routing
rejected messages to failed_jobs) plus the admin operations layered over
the local job table in pkg/store.

Client owns both the broker connection and a store.Store reference
because enqueue is a single operation spanning both: insert the local
PENDING row, then publish the persistent envelope, marking the row
FAILED with enqueue_failed if the publish leg fails. retry re-publishes
a job's stored payload unchanged after flipping it back to PENDING;
cancel and the read operations never touch the broker at all.

The connection monitor reconnects with a short bounded backoff and
redeclares the topology on every attempt, so declareTopology must stay
idempotent. A worker holding an open Consume channel sees its deliveries
stop during an outage and resumes once the monitor reconnects; in-flight
unacked deliveries become visible again per AMQP's normal redelivery
behavior once the old channel drops.
*/
package queue

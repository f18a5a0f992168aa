/*
Package objectstore is the gateway (C1) between teltubby and the
S3-compatible bucket every archived binary lands in.

Gateway wraps github.com/minio/minio-go/v7: Put streams a reader straight
into PutObject (nothing is buffered whole in memory), and the bucket's
default private ACL is never overridden — this package has no code path
that sets a public-read policy. IsTransient classifies a failed call by
the minio.ErrorResponse in its error chain: network errors, 5xx, and
throttling are transient and worth retrying; any other 4xx is permanent.

BucketUsageBytes and UsedRatio exist because most S3-compatible backends
expose no quota API: usage is computed by streaming ListObjects under the
"teltubby/" prefix and summing sizes. UsedRatio reports ok=false when no
quota is configured, which the quota gate (pkg/quota) reads as "leave the
gate open."

Memory is a map-backed ObjectStore used by pkg/ingest and pkg/worker
tests in place of a live bucket.

# See also

  - pkg/layout for how a key is built before Put is called
  - pkg/quota for the gate built on BucketUsageBytes/UsedRatio
*/
package objectstore

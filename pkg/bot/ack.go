package bot

import (
	"fmt"
	"strings"

	"github.com/cptnfren/teltubby/pkg/types"
)

// renderAck formats a pipeline ack (§4.5 step 6) into the plain-text reply
// sent back to the originating chat.
func renderAck(ack *types.AckSummary) string {
	if ack.Rejected {
		return fmt.Sprintf("rejected: %s", ack.RejectReason)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "archived %d file(s), %s\n", ack.FilesCount, humanBytes(ack.TotalBytesUploaded))
	for _, item := range ack.Items {
		switch {
		case item.FailReason != "":
			fmt.Fprintf(&b, "  #%d failed: %s\n", item.Ordinal, item.FailReason)
		case item.SkipReason != "":
			fmt.Fprintf(&b, "  #%d skipped: %s\n", item.Ordinal, item.SkipReason)
		case item.JobID != "":
			fmt.Fprintf(&b, "  #%d queued: job %s\n", item.Ordinal, item.JobID)
		case item.DuplicateOf != "":
			fmt.Fprintf(&b, "  #%d duplicate of %s (%s)\n", item.Ordinal, item.DuplicateOf, item.DedupReason)
		default:
			fmt.Fprintf(&b, "  #%d %s\n", item.Ordinal, item.S3Key)
		}
	}
	if ack.Notes != "" {
		fmt.Fprintf(&b, "notes: %s\n", ack.Notes)
	}
	return strings.TrimRight(b.String(), "\n")
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

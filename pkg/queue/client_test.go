package queue

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/cptnfren/teltubby/pkg/store"
	"github.com/cptnfren/teltubby/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestTopologyNamesMatchExternalInterfaceContract(t *testing.T) {
	require.Equal(t, "large_files", QueueName)
	require.Equal(t, "failed_jobs", DeadLetterQueue)
	require.NotEqual(t, ExchangeName, DLXExchangeName)
}

// TestJobEnvelopeRoundTrip confirms the envelope published to the broker
// marshals and unmarshals to exactly the shape §6 documents, independent
// of any broker connectivity.
func TestJobEnvelopeRoundTrip(t *testing.T) {
	job := &types.Job{
		ID:        "11111111-1111-1111-1111-111111111111",
		UserID:    42,
		ChatID:    100,
		MessageID: 7,
		FileInfo: types.FileInfo{
			FileID:       "fid",
			FileUniqueID: "uid",
			FileSize:     123456,
			FileType:     types.MediaVideo,
		},
		TelegramContext: types.TelegramContext{
			Caption:      "a caption",
			MediaGroupID: "grp",
		},
		JobMetadata: types.JobMetadata{
			CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			MaxRetries: 5,
		},
		State: types.JobPending,
	}

	body, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded types.Job
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, job.ID, decoded.ID)
	require.Equal(t, job.FileInfo, decoded.FileInfo)
	require.Equal(t, job.TelegramContext, decoded.TelegramContext)
	require.Equal(t, job.JobMetadata.MaxRetries, decoded.JobMetadata.MaxRetries)
}

// TestClientAgainstLiveBroker only runs when TELTUBBY_TEST_AMQP_URL is set;
// it is skipped in normal unit test runs since it requires a real broker.
func TestClientAgainstLiveBroker(t *testing.T) {
	url := os.Getenv("TELTUBBY_TEST_AMQP_URL")
	if url == "" {
		t.Skip("TELTUBBY_TEST_AMQP_URL not set; skipping live broker test")
	}

	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c, err := New(url, st)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	job := &types.Job{
		ID:        "22222222-2222-2222-2222-222222222222",
		ChatID:    1,
		MessageID: 1,
		FileInfo:  types.FileInfo{FileID: "f", FileUniqueID: "u", FileType: types.MediaVideo},
		JobMetadata: types.JobMetadata{
			CreatedAt:  time.Now().UTC(),
			MaxRetries: 1,
		},
	}
	require.NoError(t, c.Enqueue(context.Background(), job))

	got, err := c.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobPending, got.State)
}

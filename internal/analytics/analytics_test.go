package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/jukasdrj/alexandria/internal/cover"
	"github.com/jukasdrj/alexandria/internal/orchestrate"
)

func TestRecordChainIncrementsCounterForOperationAndProvider(t *testing.T) {
	e := New(prometheus.NewRegistry())

	e.RecordChain(context.Background(), orchestrate.Chain{
		Operation:          "fetch_metadata",
		SuccessfulProvider: "paid",
		Attempts:           []orchestrate.Attempt{{Provider: "free"}, {Provider: "paid"}},
		TotalLatency:       250 * time.Millisecond,
	})

	assert.Equal(t, 1.0, e.ChainTotalGet("fetch_metadata", "paid"))
	assert.Equal(t, 0.0, e.ChainTotalGet("fetch_metadata", "free"))
}

func TestRecordCoverProcessedIncrementsCounterForStatus(t *testing.T) {
	e := New(prometheus.NewRegistry())

	e.RecordCoverProcessed(context.Background(), "9780306406157", cover.Metrics{TotalMS: 120, CompressedBytes: 4096}, cover.StatusOK)
	e.RecordCoverProcessed(context.Background(), "9780316066525", cover.Metrics{TotalMS: 80}, cover.StatusError)

	assert.Equal(t, 1.0, e.CoverTotalGet(cover.StatusOK))
	assert.Equal(t, 1.0, e.CoverTotalGet(cover.StatusError))
	assert.Equal(t, 0.0, e.CoverTotalGet(cover.StatusRetryableAuth))
}

func TestRecordBatchCallSavingsAccumulates(t *testing.T) {
	e := New(prometheus.NewRegistry())

	e.RecordBatchCallSavings(context.Background(), 10, 9)
	e.RecordBatchCallSavings(context.Background(), 5, 4)

	assert.Equal(t, 13.0, e.BatchCallsSavedGet())
}

func TestNewToleratesNilRegistry(t *testing.T) {
	e := New(nil)
	assert.NotPanics(t, func() {
		e.RecordChain(context.Background(), orchestrate.Chain{Operation: "x"})
	})
}

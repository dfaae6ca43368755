package sinks

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/interpelli-crawler/internal/progress"
)

func TestConsoleSinkLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: "r1", Stage: progress.StageRunStart},
		{RunID: "r1", Stage: progress.StagePhaseStart, Phase: "articles", Total: 300},
		{RunID: "r1", Stage: progress.StageUnitDone, Phase: "articles", Active: 12, Done: 140, Total: 300},
		{RunID: "r1", Stage: progress.StagePhaseDone, Phase: "articles", Dur: 1500 * time.Millisecond},
		{RunID: "r1", Stage: progress.StageRunDone, Records: 42, Dur: 2 * time.Second},
	})
	require.NoError(t, err)
	require.Equal(t,
		"phase articles: started, 300 units\n"+
			"phase articles: 12 active, 140/300 done\n"+
			"phase articles: finished in 1.5s\n"+
			"run r1: 42 records in 2s\n",
		buf.String())
	require.NoError(t, sink.Close(context.Background()))
}

func TestLogSinkFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r2", Stage: progress.StageUnitFailed, Phase: "discovery", Region: "Como", URL: "https://como.example/", Note: "timeout"},
	}))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "r2", fields["run_id"])
	require.Equal(t, "UNIT_FAILED", fields["stage"])
	require.Equal(t, "Como", fields["region"])
	require.Equal(t, "timeout", fields["note"])
	require.NotContains(t, fields, "records")
}

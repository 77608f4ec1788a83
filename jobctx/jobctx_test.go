package jobctx

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithAndFrom(t *testing.T) {
	ctx := context.Background()

	_, ok := From(ctx)
	assert.False(t, ok)

	tagged := With(ctx, Data{DomainID: "d1", GameServerID: "gs1", JobID: "j1"})
	d, ok := From(tagged)
	require.True(t, ok)
	assert.Equal(t, "d1", d.DomainID)
	assert.Equal(t, "gs1", d.GameServerID)
	assert.Equal(t, "j1", d.JobID)

	// The parent context stays untouched.
	_, ok = From(ctx)
	assert.False(t, ok)
}

func TestHandler_StampsJobAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(slog.NewTextHandler(&buf, nil)))

	ctx := With(context.Background(), Data{DomainID: "d1", GameServerID: "gs1", JobID: "j1"})
	log.InfoContext(ctx, "processing")

	out := buf.String()
	assert.Contains(t, out, "domain=d1")
	assert.Contains(t, out, "gameServer=gs1")
	assert.Contains(t, out, "job=j1")
}

func TestHandler_NoJobData(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(slog.NewTextHandler(&buf, nil)))

	log.Info("idle")

	assert.NotContains(t, buf.String(), "domain=")
}

func TestContextIsolationAcrossGoroutines(t *testing.T) {
	// Two concurrently tagged contexts never see each other's data.
	var wg sync.WaitGroup
	results := make([]Data, 2)

	for i, id := range []string{"d-a", "d-b"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			ctx := With(context.Background(), Data{DomainID: id, JobID: id + "-job"})
			d, _ := From(ctx)
			results[i] = d
		}(i, id)
	}
	wg.Wait()

	assert.Equal(t, "d-a", results[0].DomainID)
	assert.Equal(t, "d-b", results[1].DomainID)
}

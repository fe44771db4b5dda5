package lifecycle

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/sentinel-mysql/metadata"
)

func TestCollector(t *testing.T) {
	env := newTestEnv(t, Config{})

	ctx, parent := env.tracer.Start(context.Background(), "unit-of-work")
	_, h := env.mgr.Begin(ctx, StatementOf("SELECT 1", metadata.Info{}))
	h.Finish(nil)
	h.Finish(nil)
	parent.End()

	c := NewCollector("app", env.mgr.Stats())

	assert.Equal(t, 4, testutil.CollectAndCount(c))

	expected := `
# HELP app_datastore_spans_double_finished_total Finish notifications received for already finished datastore spans.
# TYPE app_datastore_spans_double_finished_total counter
app_datastore_spans_double_finished_total 1
# HELP app_datastore_spans_finished_total Datastore spans finished.
# TYPE app_datastore_spans_finished_total counter
app_datastore_spans_finished_total 1
# HELP app_datastore_spans_orphaned_total Datastore spans finished after their unit of work ended.
# TYPE app_datastore_spans_orphaned_total counter
app_datastore_spans_orphaned_total 0
# HELP app_datastore_spans_started_total Datastore spans started.
# TYPE app_datastore_spans_started_total counter
app_datastore_spans_started_total 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
}

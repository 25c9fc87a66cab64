package telemetry

import (
	"context"
	"runtime/pprof"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewProfiler_Disabled(t *testing.T) {
	p, err := NewProfiler(ProfilerConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, p.IsEnabled())
	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())
}

func TestNewProfiler_Validation(t *testing.T) {
	_, err := NewProfiler(ProfilerConfig{Enabled: true, ApplicationName: "storesync"}, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = NewProfiler(ProfilerConfig{Enabled: true, ServerAddress: "http://pyroscope:4040"}, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = NewProfiler(ProfilerConfig{
		Enabled:         true,
		ServerAddress:   "http://pyroscope:4040",
		ApplicationName: "storesync",
		ProfileTypes:    []string{"heap-ish"},
	}, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "heap-ish")
}

func TestProfileTypes(t *testing.T) {
	defaults, err := profileTypes(nil)
	require.NoError(t, err)
	assert.Len(t, defaults, 5)

	all, err := profileTypes([]string{"CPU", " goroutines ", ProfileMutex, ProfileBlock})
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestSanitizeLabels(t *testing.T) {
	pairs := sanitizeLabels(map[string]string{
		ProfilingLabelSyncType:  "full",
		ProfilingLabelOperation: "sync",
		"store_id":              "3f1c",
		"empty":                 "",
		ProfilingLabelKind:      strings.Repeat("x", 200),
	})
	require.Len(t, pairs, 6)
	assert.Equal(t, []string{ProfilingLabelKind, ProfilingLabelOperation, ProfilingLabelSyncType},
		[]string{pairs[0], pairs[2], pairs[4]}, "keys are sorted")
	assert.Len(t, pairs[1], maxLabelValueLength)
	assert.Nil(t, sanitizeLabels(nil))
}

func TestWithProfilingLabels(t *testing.T) {
	var got string
	WithProfilingLabels(context.Background(), map[string]string{ProfilingLabelSyncType: "incremental"}, func(ctx context.Context) {
		got, _ = pprof.Label(ctx, ProfilingLabelSyncType)
	})
	assert.Equal(t, "incremental", got)

	called := false
	WithProfilingLabels(context.Background(), nil, func(context.Context) { called = true })
	assert.True(t, called)
}

package models

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(n int) Job {
	return Job{ID: "j1", Status: StatusQueued, VariationCount: n}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusError, true},
		{StatusQueued, StatusDone, false},
		{StatusProcessing, StatusDone, true},
		{StatusProcessing, StatusError, true},
		{StatusProcessing, StatusQueued, false},
		{StatusDone, StatusProcessing, false},
		{StatusError, StatusQueued, false},
		{StatusDone, StatusError, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestApplyProgressIsMonotonic(t *testing.T) {
	j := newJob(3)
	now := time.Now()
	require.NoError(t, j.Apply(JobPatch{Status: StatusPtr(StatusProcessing), Progress: IntPtr(40)}, now))
	require.NoError(t, j.Apply(JobPatch{Progress: IntPtr(20)}, now))
	assert.Equal(t, 40, j.Progress)
	require.NoError(t, j.Apply(JobPatch{Progress: IntPtr(250)}, now))
	assert.Equal(t, 100, j.Progress)
}

func TestApplyDoneRequiresAllOutputs(t *testing.T) {
	j := newJob(2)
	now := time.Now()
	require.NoError(t, j.Apply(JobPatch{Status: StatusPtr(StatusProcessing)}, now))

	err := j.Apply(JobPatch{Status: StatusPtr(StatusDone), ArchivePath: StringPtr("/a.zip")}, now)
	require.Error(t, err)

	require.NoError(t, j.Apply(JobPatch{Outputs: []string{"a", "b"}}, now))
	require.NoError(t, j.Apply(JobPatch{Status: StatusPtr(StatusDone), ArchivePath: StringPtr("/a.zip")}, now))
	assert.Equal(t, 100, j.Progress)
	assert.Equal(t, "/a.zip", j.ArchivePath)
}

func TestApplyRejectsTooManyOutputs(t *testing.T) {
	j := newJob(1)
	err := j.Apply(JobPatch{Outputs: []string{"a", "b"}}, time.Now())
	assert.Error(t, err)
}

func TestApplyArchiveOnlyWhenDone(t *testing.T) {
	j := newJob(1)
	err := j.Apply(JobPatch{ArchivePath: StringPtr("/x.zip")}, time.Now())
	assert.Error(t, err)
	assert.Empty(t, j.ArchivePath)
}

func TestApplyTerminalIsFrozen(t *testing.T) {
	j := newJob(1)
	now := time.Now()
	require.NoError(t, j.Apply(JobPatch{Status: StatusPtr(StatusProcessing), Progress: IntPtr(30)}, now))
	require.NoError(t, j.Apply(JobPatch{Status: StatusPtr(StatusError), Error: StringPtr("boom")}, now))
	assert.Equal(t, 30, j.Progress)

	err := j.Apply(JobPatch{Status: StatusPtr(StatusProcessing)}, now)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	// replaying the same terminal write is accepted and changes nothing
	require.NoError(t, j.Apply(JobPatch{Status: StatusPtr(StatusError), Error: StringPtr("other")}, now))
	assert.Equal(t, "boom", j.Error)
}

func TestRangeJSON(t *testing.T) {
	var cfg EffectConfig
	require.NoError(t, json.Unmarshal([]byte(`{"brightness":[-0.2,0.3],"hue":[-5,5]}`), &cfg))
	require.NotNil(t, cfg.Brightness)
	assert.Equal(t, Range{Min: -0.2, Max: 0.3}, *cfg.Brightness)
	assert.Nil(t, cfg.Zoom)

	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"brightness":[-0.2,0.3],"hue":[-5,5]}`, string(out))

	var bad Range
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`"x"`), &bad))
}

func TestRangeValid(t *testing.T) {
	assert.True(t, Range{Min: -1, Max: 1}.Valid())
	assert.True(t, Range{Min: 2, Max: 2}.Valid())
	assert.False(t, Range{Min: 2, Max: 1}.Valid())
	assert.False(t, Range{Min: math.NaN(), Max: 1}.Valid())
	assert.False(t, Range{Min: 0, Max: math.Inf(1)}.Valid())
}

func TestEffectConfigSetGet(t *testing.T) {
	var cfg EffectConfig
	for _, name := range EffectNames {
		r := &Range{Min: 1, Max: 2}
		require.True(t, cfg.Set(name, r), name)
		assert.Same(t, r, cfg.Get(name))
	}
	assert.False(t, cfg.Set("sharpness", &Range{}))
	assert.Nil(t, cfg.Get("sharpness"))
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	o := Default()
	assert.NoError(t, o.Validate())
	assert.Equal(t, ModeDFS, o.Mode)
	assert.False(t, o.Delaying())
}

var validationTests = []struct {
	name  string
	opts  []Option
	valid bool
}{
	{"defaults", nil, true},
	{"modes", []Option{WithMode(ModeNDFS)}, true},
	{"unknown mode", []Option{WithMode("bfs")}, false},
	{"no workers", []Option{Parallelism(0)}, false},
	{"negative start", []Option{Cutoffs(-1, 1, -1)}, false},
	{"final below unbounded", []Option{Cutoffs(0, 1, -2)}, false},
	{"negative choice cutoff", []Option{ChoiceCutoff(-1)}, false},
	{"no stack", []Option{MaxStackDepth(0)}, false},
	{"scheduler", []Option{WithScheduler("pct")}, true},
	{"unknown scheduler", []Option{WithScheduler("fifo")}, false},
	{"probability above one", []Option{Fingerprinting(false, 1.5)}, false},
	{"probability", []Option{Fingerprinting(false, 0.25)}, true},
	{"no walks", []Option{WithMode(ModeRandom), RandomWalks(0)}, false},
	{"ndfs with scheduler", []Option{WithMode(ModeNDFS), WithScheduler("roundrobin")}, false},
	{"stateless with scheduler", []Option{WithMode(ModeStateless), WithScheduler("roundrobin")}, true},
}

func TestValidation(t *testing.T) {
	for _, test := range validationTests {
		t.Run(test.name, func(t *testing.T) {
			o, err := New(test.opts...)
			if test.valid {
				require.NoError(t, err)
				assert.NotNil(t, o)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
				assert.Nil(t, o)
			}
		})
	}
}

func TestCutoffs(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		start     int
		increment int
	}{
		{"depth defaults", nil, DefaultDepthIncrement, DefaultDepthIncrement},
		{"delay defaults", []Option{WithScheduler("roundrobin")}, 0, DefaultDelayIncrement},
		{"depth", []Option{Cutoffs(3, 2, -1)}, 3, 2},
		{"depth increment only", []Option{Cutoffs(0, 4, -1)}, 4, 4},
		{"delay", []Option{WithScheduler("rtc"), Cutoffs(2, 3, 10)}, 2, 3},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			o, err := New(test.opts...)
			require.NoError(t, err)
			start, increment := o.Cutoffs()
			assert.Equal(t, test.start, start)
			assert.Equal(t, test.increment, increment)
		})
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
mode: stateless
parallelism: 3
start_cutoff: 5
final_cutoff: 20
scheduler: roundrobin
single_transition_sample_probability: 0.5
random_walks: 7
`)
	o, err := Parse(data, Default())
	require.NoError(t, err)
	assert.Equal(t, ModeStateless, o.Mode)
	assert.Equal(t, 3, o.DegreeOfParallelism)
	assert.Equal(t, 5, o.StartCutoff)
	assert.Equal(t, 20, o.FinalCutoff)
	assert.Equal(t, "roundrobin", o.Scheduler)
	assert.Equal(t, 0.5, o.SingleTransitionSampleProbability)
	assert.Equal(t, 7, o.RandomWalks)
	assert.Equal(t, DefaultMaxStackDepth, o.MaxStackDepth, "keys missing from the file keep their base value")

	// Options are applied over the file
	built, err := Build(o, WithMode(ModeDFS), Parallelism(1))
	require.NoError(t, err)
	assert.Equal(t, ModeDFS, built.Mode)
	assert.Equal(t, 1, built.DegreeOfParallelism)
	assert.Equal(t, 5, built.StartCutoff)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("depth: 3\n"), Default())
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseEmpty(t *testing.T) {
	o, err := Parse(nil, Default())
	require.NoError(t, err)
	assert.Equal(t, Default(), o)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zexplore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: random\nrandom_walks: 12\n"), 0600))
	o, err := Load(path, Default())
	require.NoError(t, err)
	assert.Equal(t, ModeRandom, o.Mode)
	assert.Equal(t, 12, o.RandomWalks)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), Default())
	assert.Error(t, err)
}

package ewma

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClampsInvalidAlpha(t *testing.T) {
	assert.Equal(t, DefaultAlpha, New(0).alpha)
	assert.Equal(t, DefaultAlpha, New(-1).alpha)
	assert.Equal(t, DefaultAlpha, New(1.5).alpha)
	assert.Equal(t, 0.5, New(0.5).alpha)
}

func TestAddSampleEmptyIsNoop(t *testing.T) {
	m := New(DefaultAlpha)
	m.AddSample(nil)
	assert.Equal(t, 0.0, m.Value())
}

func TestAddSampleFirstCallInitializes(t *testing.T) {
	m := New(DefaultAlpha)
	full := make([]int16, 4)
	for i := range full {
		full[i] = 32767
	}
	m.AddSample(full)
	assert.InDelta(t, 1.0, m.Value(), 1e-4)
}

func TestAddSampleSmoothsTowardNewPower(t *testing.T) {
	m := New(0.5)
	silence := []int16{0, 0, 0, 0}
	loud := make([]int16, 4)
	for i := range loud {
		loud[i] = 32767
	}

	m.AddSample(silence)
	assert.Equal(t, 0.0, m.Value())

	m.AddSample(loud)
	assert.InDelta(t, 0.5, m.Value(), 1e-3)
}

func TestDrainMaxTracksAndResetsPeak(t *testing.T) {
	m := New(1.0) // alpha 1 means value == latest sample's power
	quiet := []int16{3277, -3277}  // ~0.01 power
	loud := make([]int16, 2)
	loud[0], loud[1] = 32767, -32767 // ~1.0 power

	m.AddSample(loud)
	m.AddSample(quiet)

	peak := m.DrainMax()
	assert.InDelta(t, 1.0, peak, 1e-2)

	// Draining resets the tracked max; a second drain with no new loud
	// sample reflects only what's happened since.
	second := m.DrainMax()
	assert.Equal(t, 0.0, second)
}

package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEffectMaskHex(t *testing.T) {
	mask, err := ParseEffectMask("0x5")
	require.NoError(t, err)
	assert.Equal(t, uint32(EffectAEC|EffectAGC), mask)
}

func TestParseEffectMaskNames(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want uint32
	}{
		{"single name", "aec", EffectAEC},
		{"combined names", "aec,ns", EffectAEC | EffectNS},
		{"case insensitive", "AEC,Ns", EffectAEC | EffectNS},
		{"whitespace tolerant", " aec , ns ", EffectAEC | EffectNS},
		{"all four", "aec,ns,agc,vad", EffectAEC | EffectNS | EffectAGC | EffectVAD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask, err := ParseEffectMask(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, mask)
		})
	}
}

func TestParseEffectMaskUnknownName(t *testing.T) {
	_, err := ParseEffectMask("not-a-real-effect")
	assert.Error(t, err)
}

func TestParseEffectMaskInvalidHex(t *testing.T) {
	_, err := ParseEffectMask("0xzz")
	assert.Error(t, err)
}

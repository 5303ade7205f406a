package control

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/avocet-audio/crasd/internal/crasderr"
)

// Audio effect bitmask values (spec §6: "Effect bitmask"). Stable across
// releases; external callers may depend on the numeric values.
const (
	EffectAEC          = 0x1
	EffectNS           = 0x2
	EffectAGC          = 0x4
	EffectVAD          = 0x8
	EffectAECOnDSP     = 0x10
	EffectNSOnDSP      = 0x20
	EffectAGCOnDSP     = 0x40
)

var effectNames = map[string]uint32{
	"aec": EffectAEC,
	"ns":  EffectNS,
	"agc": EffectAGC,
	"vad": EffectVAD,
}

// ParseEffectMask accepts either a "0x"-prefixed hex literal or a
// comma-separated list of effect names (aec, ns, agc, vad) and returns
// the combined bitmask (spec §6).
func ParseEffectMask(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return 0, crasderr.New("ParseEffectMask", crasderr.InvalidArgument, fmt.Errorf("hex mask %q: %w", s, err))
		}
		return uint32(v), nil
	}

	var mask uint32
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		bit, ok := effectNames[name]
		if !ok {
			return 0, crasderr.New("ParseEffectMask", crasderr.InvalidArgument, fmt.Errorf("unknown effect name %q", name))
		}
		mask |= bit
	}
	return mask, nil
}

// Package cpuinfo probes the host for the instruction-set capabilities that
// strategy selection keys on.
package cpuinfo

import (
	"fmt"
	"math/bits"
	"os"
	"strings"
	"sync"
)

// Capability is a single ISA feature class.
type Capability uint16

const (
	// Base is the portable scalar path every host has.
	Base Capability = 1 << iota
	// Vector is a 128-bit or wider SIMD unit with fused multiply-add.
	Vector
	// FP16 is native half-precision vector arithmetic.
	FP16
	// DotProd is int8 dot-product instructions.
	DotProd
	// BF16 is bfloat16 arithmetic.
	BF16
	// SVE is scalable or 512-bit wide vectors.
	SVE
	// SVE2 extends SVE with the integer and widening forms.
	SVE2
	// GPU marks strategies that run on an attached compute device.
	GPU
)

var capNames = []struct {
	c    Capability
	name string
}{
	{Base, "base"},
	{Vector, "vector"},
	{FP16, "fp16"},
	{DotProd, "dotprod"},
	{BF16, "bf16"},
	{SVE, "sve"},
	{SVE2, "sve2"},
	{GPU, "gpu"},
}

func (c Capability) String() string {
	for _, n := range capNames {
		if n.c == c {
			return n.name
		}
	}
	return fmt.Sprintf("cap(%#x)", uint16(c))
}

// Set is a bitset of capabilities.
type Set uint16

// Of builds a set from individual capabilities.
func Of(caps ...Capability) Set {
	var s Set
	for _, c := range caps {
		s |= Set(c)
	}
	return s
}

// Has reports whether c is in the set.
func (s Set) Has(c Capability) bool { return s&Set(c) != 0 }

// ContainsAll reports whether every capability of o is in s.
func (s Set) ContainsAll(o Set) bool { return s&o == o }

// Count returns the number of capabilities in the set.
func (s Set) Count() int { return bits.OnesCount16(uint16(s)) }

// With returns s plus c.
func (s Set) With(c Capability) Set { return s | Set(c) }

// Without returns s minus c.
func (s Set) Without(c Capability) Set { return s &^ Set(c) }

// List returns the member capabilities in bit order.
func (s Set) List() []Capability {
	out := make([]Capability, 0, s.Count())
	for _, n := range capNames {
		if s.Has(n.c) {
			out = append(out, n.c)
		}
	}
	return out
}

func (s Set) String() string {
	if s == 0 {
		return "{}"
	}
	names := make([]string, 0, s.Count())
	for _, c := range s.List() {
		names = append(names, c.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// MarshalText encodes the set as a comma separated list.
func (s Set) MarshalText() ([]byte, error) {
	names := make([]string, 0, s.Count())
	for _, c := range s.List() {
		names = append(names, c.String())
	}
	return []byte(strings.Join(names, ",")), nil
}

// UnmarshalText parses the output of MarshalText.
func (s *Set) UnmarshalText(b []byte) error {
	v, err := ParseSet(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSet parses "base,vector,fp16". Braces and spaces are ignored.
func ParseSet(str string) (Set, error) {
	str = strings.Trim(strings.TrimSpace(str), "{}")
	var s Set
	if str == "" {
		return s, nil
	}
	for _, f := range strings.Split(str, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		found := false
		for _, n := range capNames {
			if n.name == f {
				s |= Set(n.c)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown capability %q", f)
		}
	}
	return s, nil
}

const (
	envNoSIMD = "STRATUM_NO_SIMD"
	envCaps   = "STRATUM_CAPS"
)

var (
	probeOnce sync.Once
	probed    Set
)

// Probe returns the capabilities of the running host. The result is
// computed once per process. STRATUM_NO_SIMD=1 restricts it to Base;
// STRATUM_CAPS intersects it with an explicit list.
func Probe() Set {
	probeOnce.Do(func() {
		probed = applyEnv(hostCaps().With(Base), os.Getenv(envNoSIMD), os.Getenv(envCaps))
	})
	return probed
}

// Host returns the raw hardware probe without environment overrides.
func Host() Set {
	return hostCaps().With(Base)
}

func applyEnv(s Set, noSIMD, mask string) Set {
	if v := strings.TrimSpace(noSIMD); v != "" && v != "0" && !strings.EqualFold(v, "false") {
		return Of(Base)
	}
	if strings.TrimSpace(mask) != "" {
		m, err := ParseSet(mask)
		if err == nil {
			s &= m | Set(Base)
		}
	}
	return s
}

// Features reports the named hardware flags read from golang.org/x/sys/cpu
// for diagnostics.
func Features() map[string]bool {
	return hostFeatures()
}

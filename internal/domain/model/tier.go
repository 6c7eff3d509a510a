package model

import (
	"fmt"
	"strings"
)

// Metal is a token category, orthogonal to epoch.
type Metal string

// Recognized metals in canonical order.
const (
	Gold   Metal = "gold"
	Silver Metal = "silver"
	Copper Metal = "copper"
)

// Metals lists recognized metals in canonical order.
var Metals = []Metal{Gold, Silver, Copper}

// ParseMetal normalizes a tag and reports whether it names a recognized metal.
func ParseMetal(tag string) (Metal, bool) {
	switch Metal(strings.ToLower(strings.TrimSpace(tag))) {
	case Gold:
		return Gold, true
	case Silver:
		return Silver, true
	case Copper:
		return Copper, true
	}
	return "", false
}

// Epoch is an ordered qualification tier. Lower values open first.
type Epoch int

// Tiers in opening order. EpochClosed is the terminal pointer value reached
// once the final tier is depleted.
const (
	Founder Epoch = iota
	Pioneer
	Community
	Ecosystem
	EpochClosed
)

// Epochs lists every tier in order.
var Epochs = []Epoch{Founder, Pioneer, Community, Ecosystem}

var epochNames = [...]string{"founder", "pioneer", "community", "ecosystem", "closed"}

func (e Epoch) String() string {
	if e < Founder || e > EpochClosed {
		return fmt.Sprintf("epoch(%d)", int(e))
	}
	return epochNames[e]
}

// Valid reports whether e names a real tier (not the terminal marker).
func (e Epoch) Valid() bool { return e >= Founder && e <= Ecosystem }

// Next returns the following tier, or EpochClosed after the last one.
func (e Epoch) Next() Epoch {
	if e >= Ecosystem {
		return EpochClosed
	}
	return e + 1
}

// ParseEpoch maps a tier name to its Epoch.
func ParseEpoch(name string) (Epoch, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range epochNames {
		if s == n {
			return Epoch(i), nil
		}
	}
	return 0, fmt.Errorf("unknown epoch %q", name)
}

// PoolKey identifies a MetalPool.
type PoolKey struct {
	Epoch Epoch
	Metal Metal
}

func (k PoolKey) String() string { return k.Epoch.String() + "/" + string(k.Metal) }

// Rank returns the canonical position of a metal, or len(Metals) when unknown.
func (m Metal) Rank() int {
	for i, v := range Metals {
		if v == m {
			return i
		}
	}
	return len(Metals)
}

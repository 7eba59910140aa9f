package memory

import (
	"fmt"
)

// RegionID is the small integer a region name is pinned to.
type RegionID uint8

const (
	// MaxRegions is the platform ceiling on regions sharing one Memory.
	MaxRegions = 255
	// MaxRegionName bounds a region name so the table fits the header page.
	MaxRegionName = 32
)

// Regions is the ordered, append-only name table. A name's position is its
// RegionID, so existing entries must never be reordered or removed once data
// exists; new stores are added at the end.
type Regions struct {
	names []string
	ids   map[string]RegionID
}

// NewRegions panics if the table exceeds MaxRegions, repeats a name or holds
// an invalid name. These are deployment errors with no recovery.
func NewRegions(names ...string) Regions {
	if len(names) > MaxRegions {
		panic(fmt.Sprintf("memory: %d regions declared, ceiling is %d", len(names), MaxRegions))
	}
	r := Regions{names: append([]string(nil), names...), ids: make(map[string]RegionID, len(names))}
	for i, name := range names {
		if name == "" || len(name) > MaxRegionName {
			panic(fmt.Sprintf("memory: region name %q must be 1..%d bytes", name, MaxRegionName))
		}
		if _, dup := r.ids[name]; dup {
			panic(fmt.Sprintf("memory: region %q declared twice", name))
		}
		r.ids[name] = RegionID(i)
	}
	return r
}

func (r Regions) ID(name string) (RegionID, bool) {
	id, ok := r.ids[name]
	return id, ok
}

func (r Regions) Name(id RegionID) string {
	if int(id) >= len(r.names) {
		return ""
	}
	return r.names[id]
}

func (r Regions) Len() int { return len(r.names) }

func (r Regions) Names() []string { return append([]string(nil), r.names...) }

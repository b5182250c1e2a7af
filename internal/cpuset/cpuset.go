package cpuset

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strconv"
	"strings"
)

// MaxCPUs is the widest affinity mask a Selection can express.
const MaxCPUs = 64

const (
	// DisplayTitle prefixes Title output.
	DisplayTitle = "CPUs: "
	noneDisplay  = "None"
)

// ErrOutOfRange is returned by Toggle for an index at or beyond the CPU count.
var ErrOutOfRange = errors.New("cpu index out of range")

// Selection is a set of CPU indices plus the machine's CPU count at the time
// it was built. Two selections are equal when their members are equal,
// regardless of CPU count.
type Selection struct {
	selected map[int]struct{}
	cpuCount int
}

// New returns an empty selection.
func New(cpuCount int) Selection {
	return Selection{selected: make(map[int]struct{}), cpuCount: cpuCount}
}

// NewAllSelected returns a selection holding every index in [0, cpuCount).
func NewAllSelected(cpuCount int) Selection {
	s := New(cpuCount)
	for i := 0; i < cpuCount; i++ {
		s.selected[i] = struct{}{}
	}
	return s
}

// NewPreselected returns a selection holding exactly indices. Indices are not
// checked against cpuCount because they may come from a raw hardware mask.
func NewPreselected(indices []int, cpuCount int) Selection {
	s := New(cpuCount)
	for _, i := range indices {
		s.selected[i] = struct{}{}
	}
	return s
}

// FromMask returns every set bit position of mask, scanning all MaxCPUs bits.
func FromMask(mask uint64) []int {
	out := make([]int, 0, bits.OnesCount64(mask))
	for i := 0; i < MaxCPUs; i++ {
		if mask&(uint64(1)<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

func (s Selection) CPUCount() int { return s.cpuCount }

func (s Selection) Len() int { return len(s.selected) }

func (s Selection) IsSelected(i int) bool {
	_, ok := s.selected[i]
	return ok
}

// Toggle adds or removes i. Toggling an index into the state it already has
// is not an error.
func (s *Selection) Toggle(i int, activate bool) error {
	if i < 0 || i >= s.cpuCount {
		return fmt.Errorf("%w: cpu %d not in [0, %d)", ErrOutOfRange, i, s.cpuCount)
	}
	if s.selected == nil {
		s.selected = make(map[int]struct{})
	}
	if activate {
		s.selected[i] = struct{}{}
	} else {
		delete(s.selected, i)
	}
	return nil
}

// Indices returns the members in ascending order.
func (s Selection) Indices() []int {
	out := make([]int, 0, len(s.selected))
	for i := range s.selected {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Mask returns the affinity mask with bit i set for every selected i.
// Indices at or above MaxCPUs cannot be represented and are ignored.
func (s Selection) Mask() uint64 {
	var mask uint64
	for i := range s.selected {
		if i >= 0 && i < MaxCPUs {
			mask |= uint64(1) << uint(i)
		}
	}
	return mask
}

// Equal reports whether both selections hold the same members.
func (s Selection) Equal(o Selection) bool {
	if len(s.selected) != len(o.selected) {
		return false
	}
	for i := range s.selected {
		if _, ok := o.selected[i]; !ok {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (s Selection) Clone() Selection {
	return NewPreselected(s.Indices(), s.cpuCount)
}

// String renders "None", "All (N)" or a sorted comma separated list.
func (s Selection) String() string {
	switch {
	case len(s.selected) == 0:
		return noneDisplay
	case len(s.selected) == s.cpuCount:
		return fmt.Sprintf("All (%d)", s.cpuCount)
	}
	idx := s.Indices()
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

// Title is String prefixed with DisplayTitle.
func (s Selection) Title() string { return DisplayTitle + s.String() }

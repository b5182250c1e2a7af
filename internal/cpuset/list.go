package cpuset

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// ParseList parses the kernel cpu list syntax ("0-3,8,10-11") into sorted,
// de-duplicated indices.
func ParseList(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []int{}, nil
	}
	parts := strings.Split(raw, ",")
	values := make([]int, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		if strings.Contains(item, "-") {
			bounds := strings.SplitN(item, "-", 2)
			start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil {
				return nil, err
			}
			end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, err
			}
			if start < 0 || end < start {
				return nil, errors.New("invalid cpu range " + item)
			}
			for i := start; i <= end; i++ {
				values = append(values, i)
			}
			continue
		}
		v, err := strconv.Atoi(item)
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, errors.New("negative cpu index " + item)
		}
		values = append(values, v)
	}
	sort.Ints(values)
	return dedupeSorted(values), nil
}

// FormatList renders indices in the compact list syntax accepted by ParseList.
func FormatList(cpus []int) string {
	if len(cpus) == 0 {
		return ""
	}
	sorted := make([]int, len(cpus))
	copy(sorted, cpus)
	sort.Ints(sorted)
	sorted = dedupeSorted(sorted)

	parts := make([]string, 0, len(sorted))
	start, prev := sorted[0], sorted[0]
	for _, cur := range sorted[1:] {
		if cur == prev+1 {
			prev = cur
			continue
		}
		parts = append(parts, formatRange(start, prev))
		start, prev = cur, cur
	}
	parts = append(parts, formatRange(start, prev))
	return strings.Join(parts, ",")
}

func formatRange(start, end int) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return strconv.Itoa(start) + "-" + strconv.Itoa(end)
}

func dedupeSorted(values []int) []int {
	if len(values) == 0 {
		return values
	}
	out := values[:1]
	for _, v := range values[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

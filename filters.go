package canbridge

import (
	"fmt"
	"strconv"
	"strings"
)

// FrameFilter decides whether a frame is accepted.
type FrameFilter func(Frame) bool

// ByID returns a filter that matches frames with the exact identifier.
func ByID(id uint32) FrameFilter {
	return func(f Frame) bool { return f.ID == id }
}

// ByIDs returns a filter that matches any of the provided identifiers.
func ByIDs(ids ...uint32) FrameFilter {
	m := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return func(f Frame) bool {
		_, ok := m[f.ID]
		return ok
	}
}

// ByRange matches frames whose ID is within [minID, maxID], inclusive.
func ByRange(minID, maxID uint32) FrameFilter {
	if maxID < minID {
		minID, maxID = maxID, minID
	}
	return func(f Frame) bool { return f.ID >= minID && f.ID <= maxID }
}

// ByMask matches when (frame.ID & mask) == (id & mask), like a kernel
// can_filter entry.
func ByMask(id uint32, mask uint32) FrameFilter {
	want := id & mask
	return func(f Frame) bool { return (f.ID & mask) == want }
}

// StandardOnly matches standard (11-bit) identifiers.
func StandardOnly() FrameFilter {
	return func(f Frame) bool { return !f.Extended }
}

// ExtendedOnly matches extended (29-bit) identifiers.
func ExtendedOnly() FrameFilter {
	return func(f Frame) bool { return f.Extended }
}

// DataOnly matches non-RTR frames.
func DataOnly() FrameFilter {
	return func(f Frame) bool { return !f.RTR }
}

// And composes two filters; the result matches when both match.
func And(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f Frame) bool { return a(f) && b(f) }
	}
}

// Or composes two filters; the result matches when either matches.
func Or(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f Frame) bool { return a(f) || b(f) }
	}
}

// Not inverts a filter. Not(nil) matches nothing.
func Not(a FrameFilter) FrameFilter {
	if a == nil {
		return func(Frame) bool { return false }
	}
	return func(f Frame) bool { return !a(f) }
}

// ParseFilters parses a comma separated filter list. Identifier entries are
// combined into a union; frame-kind keywords then restrict that union.
//
//	123:7FF   accept when id&7FF == 123&7FF (candump notation)
//	123~7FF   accept when id&7FF != 123&7FF
//	100-1FF   accept identifiers 100 through 1FF
//	123       accept identifier 123
//	std       accept standard identifiers only
//	ext       accept extended identifiers only
//	data      accept data frames only, no remote requests
//
// A list of keywords alone applies them to every identifier. An empty string
// returns a nil filter, which accepts everything.
func ParseFilters(s string) (FrameFilter, error) {
	var union, kind FrameFilter
	var exact []uint32
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch strings.ToLower(part) {
		case "":
		case "std":
			kind = And(kind, StandardOnly())
		case "ext":
			kind = And(kind, ExtendedOnly())
		case "data":
			kind = And(kind, DataOnly())
		default:
			f, id, err := parseFilterEntry(part)
			if err != nil {
				return nil, fmt.Errorf("canbridge: filter %q: %w", part, err)
			}
			if f == nil {
				exact = append(exact, id)
				continue
			}
			union = Or(union, f)
		}
	}
	if len(exact) > 0 {
		union = Or(union, ByIDs(exact...))
	}
	return And(union, kind), nil
}

// parseFilterEntry returns the filter for a mask or range entry, or a nil
// filter and the identifier for an exact entry.
func parseFilterEntry(part string) (FrameFilter, uint32, error) {
	if lo, hi, ok := strings.Cut(part, "-"); ok {
		minID, err := parseHexID(lo)
		if err != nil {
			return nil, 0, err
		}
		maxID, err := parseHexID(hi)
		if err != nil {
			return nil, 0, err
		}
		return ByRange(minID, maxID), 0, nil
	}
	sep := strings.IndexAny(part, ":~")
	if sep < 0 {
		id, err := parseHexID(part)
		return nil, id, err
	}
	id, err := parseHexID(part[:sep])
	if err != nil {
		return nil, 0, err
	}
	mask, err := parseHexID(part[sep+1:])
	if err != nil {
		return nil, 0, err
	}
	f := ByMask(id, mask)
	if part[sep] == '~' {
		f = Not(f)
	}
	return f, 0, nil
}

func parseHexID(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("want hex id, id:mask, id~mask or lo-hi: %w", err)
	}
	return uint32(v), nil
}

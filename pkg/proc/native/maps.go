package native

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Region is one mapping of the inferior's address space.
type Region struct {
	Start, End uint64
	Perms      string
	Offset     uint64
	Inode      uint64
	Path       string
}

// Size returns the length of the mapping.
func (r Region) Size() uint64 { return r.End - r.Start }

// Executable reports whether the mapping is executable.
func (r Region) Executable() bool { return strings.Contains(r.Perms, "x") }

func (r Region) String() string {
	return fmt.Sprintf("%#x-%#x %s %s", r.Start, r.End, r.Perms, r.Path)
}

// Regions is an address ordered memory map.
type Regions []Region

// RegionAt returns the bounds of the mapping containing addr.
func (rs Regions) RegionAt(addr uint64) (uint64, uint64, bool) {
	i := sort.Search(len(rs), func(i int) bool { return rs[i].End > addr })
	if i < len(rs) && rs[i].Start <= addr {
		return rs[i].Start, rs[i].End, true
	}
	return 0, 0, false
}

// Find returns the mapping containing addr.
func (rs Regions) Find(addr uint64) (Region, bool) {
	i := sort.Search(len(rs), func(i int) bool { return rs[i].End > addr })
	if i < len(rs) && rs[i].Start <= addr {
		return rs[i], true
	}
	return Region{}, false
}

// ParseMaps parses the format of /proc/<pid>/maps:
//
//	start-end perms offset dev inode [path]
func ParseMaps(r io.Reader) (Regions, error) {
	var rs Regions
	s := bufio.NewScanner(r)
	line := 0
	for s.Scan() {
		line++
		fields := strings.Fields(s.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 5 {
			return nil, fmt.Errorf("maps line %d: too few fields", line)
		}
		var reg Region
		dash := strings.IndexByte(fields[0], '-')
		if dash < 0 {
			return nil, fmt.Errorf("maps line %d: malformed range %q", line, fields[0])
		}
		var err error
		if reg.Start, err = strconv.ParseUint(fields[0][:dash], 16, 64); err != nil {
			return nil, fmt.Errorf("maps line %d: %w", line, err)
		}
		if reg.End, err = strconv.ParseUint(fields[0][dash+1:], 16, 64); err != nil {
			return nil, fmt.Errorf("maps line %d: %w", line, err)
		}
		reg.Perms = fields[1]
		if reg.Offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
			return nil, fmt.Errorf("maps line %d: %w", line, err)
		}
		if reg.Inode, err = strconv.ParseUint(fields[4], 10, 64); err != nil {
			return nil, fmt.Errorf("maps line %d: %w", line, err)
		}
		if len(fields) > 5 {
			reg.Path = strings.Join(fields[5:], " ")
		}
		rs = append(rs, reg)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].Start < rs[j].Start })
	return rs, nil
}

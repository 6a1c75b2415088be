package kotori

import (
	"sort"
	"strconv"
	"strings"
)

// pageExtensions is the case-insensitive set of image extensions that
// qualify an archive entry as a page.
var pageExtensions = map[string]struct{}{
	".bmp":  {},
	".gif":  {},
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
}

// isPageName reports whether entryName matches the page glob.
func isPageName(entryName string) bool {
	i := strings.LastIndexByte(entryName, '.')
	if i < 0 {
		return false
	}
	_, ok := pageExtensions[strings.ToLower(entryName[i:])]
	return ok
}

// PageIndex is an ordered, immutable mapping from contiguous integer indices
// to archive-internal page filenames. Order is natural-case-insensitive:
// digit runs compare numerically, so "page2" sorts before "page10".
//
// A PageIndex is built once when an ArchiveHandle is opened and is safe for
// concurrent read access by any number of observers (it is never mutated
// after construction).
type PageIndex struct {
	names []string
}

// NewPageIndex filters entryNames to the page glob and sorts the result in
// natural-case-insensitive order.
func NewPageIndex(entryNames []string) *PageIndex {
	pages := make([]string, 0, len(entryNames))
	for _, name := range entryNames {
		if isPageName(name) {
			pages = append(pages, name)
		}
	}

	sort.Slice(pages, func(i, j int) bool {
		return naturalLess(pages[i], pages[j])
	})

	return &PageIndex{names: pages}
}

// Len returns the number of pages.
func (p *PageIndex) Len() int {
	if p == nil {
		return 0
	}
	return len(p.names)
}

// Name returns the page name at index i, or ("", false) if out of range.
func (p *PageIndex) Name(i int) (string, bool) {
	if p == nil || i < 0 || i >= len(p.names) {
		return "", false
	}
	return p.names[i], true
}

// Contains reports whether name is present anywhere in the index.
func (p *PageIndex) Contains(name string) bool {
	if p == nil {
		return false
	}
	for _, n := range p.names {
		if n == name {
			return true
		}
	}
	return false
}

// Names returns a copy of the ordered page names. Callers must not assume
// aliasing with the handle's internal slice.
func (p *PageIndex) Names() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// naturalLess implements natural, case-insensitive string comparison: runs of
// ASCII digits compare by numeric value rather than lexicographically, so
// "page2" < "page10" even though '1' < '2' as bytes would otherwise put
// "page10" first.
func naturalLess(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]

		if isDigit(ca) && isDigit(cb) {
			ia, lenA := digitRun(a, i)
			ib, lenB := digitRun(b, j)
			if ia != ib {
				return ia < ib
			}
			i += lenA
			j += lenB
			continue
		}

		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}

	return len(a)-i < len(b)-j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// digitRun returns the integer value of the run of digits starting at i, and
// its length in bytes.
func digitRun(s string, i int) (int64, int) {
	start := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	v, _ := strconv.ParseInt(s[start:i], 10, 64) // bounded by caller to a digit run; error impossible
	return v, i - start
}

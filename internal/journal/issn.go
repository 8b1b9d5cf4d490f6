package journal

import (
	"fmt"
	"sort"
	"strings"
)

// NormalizeISSN returns the canonical NNNN-NNNC form of an ISSN.
func NormalizeISSN(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(raw)) {
		switch {
		case r >= '0' && r <= '9', r == 'X':
			b.WriteRune(r)
		case r == '-', r == ' ':
		default:
			return "", fmt.Errorf("invalid issn %q", raw)
		}
	}
	s := b.String()
	if len(s) != 8 || strings.ContainsRune(s[:7], 'X') {
		return "", fmt.Errorf("invalid issn %q", raw)
	}
	return s[:4] + "-" + s[4:], nil
}

// PreferredAlias picks the alias used for ISSN-keyed lookups. Linking ISSNs win
// over print, print over electronic, and ties break on the ISSN itself.
func PreferredAlias(aliases []IssnAlias) (IssnAlias, bool) {
	if len(aliases) == 0 {
		return IssnAlias{}, false
	}
	sorted := append([]IssnAlias(nil), aliases...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Kind.Rank(), sorted[j].Kind.Rank()
		if ri != rj {
			return ri < rj
		}
		return sorted[i].ISSN < sorted[j].ISSN
	})
	return sorted[0], true
}

package ldapsync

import (
	"fmt"
	"strings"
)

// FilesafeName implements the on-disk naming rule from section 6: escape
// every byte outside [0-9A-Za-z._-] as %HH, lowercase letters, and drop the
// trailing dot. The root zone maps to "@". Operates on the name's raw label
// bytes (not master-file presentation text) so a label's own '\\'-escaped
// content is not double-escaped.
func FilesafeName(n Name) string {
	if n.NumLabels() == 0 {
		return "@"
	}
	var b strings.Builder
	for i, label := range n.Labels {
		if i > 0 {
			b.WriteByte('.')
		}
		for _, c := range label {
			c = toLowerByte(c)
			switch {
			case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c == '.' || c == '_' || c == '-':
				b.WriteByte(c)
			default:
				fmt.Fprintf(&b, "%%%02X", c)
			}
		}
	}
	return b.String()
}

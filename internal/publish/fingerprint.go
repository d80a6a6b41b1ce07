package publish

import (
	"fmt"
	"strconv"

	"github.com/zeebo/xxh3"

	"github.com/leapstack-labs/featureprep/pkg/core"
)

// ContentHashTag is the registration tag holding a partition's fingerprint.
const ContentHashTag = "content_hash"

// Fingerprint hashes the column names, types and values of t in row order.
// Equal tables give equal fingerprints wherever they are stored, so
// republishing unchanged data is visible in the catalog.
func Fingerprint(t *core.Table) string {
	h := xxh3.New()
	buf := make([]byte, 0, 64)

	for _, c := range t.Columns {
		buf = append(buf[:0], c.Name...)
		buf = append(buf, 0x1f)
		buf = append(buf, c.Type.String()...)
		buf = append(buf, 0x1e)
		_, _ = h.Write(buf)
	}

	for r := range t.NumRows() {
		for _, c := range t.Columns {
			buf = appendValue(buf[:0], c.Values[r])
			_, _ = h.Write(buf)
		}
		_, _ = h.Write([]byte{0x1e})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// appendValue encodes v with a leading marker so that null, "" and 0 differ.
func appendValue(buf []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(buf, 0x00)
	case int64:
		buf = append(buf, 'i')
		buf = strconv.AppendInt(buf, x, 10)
	case float64:
		buf = append(buf, 'f')
		buf = strconv.AppendFloat(buf, x, 'g', -1, 64)
	case bool:
		buf = append(buf, 'b')
		buf = strconv.AppendBool(buf, x)
	case string:
		buf = append(buf, 's')
		buf = strconv.AppendInt(buf, int64(len(x)), 10)
		buf = append(buf, ':')
		buf = append(buf, x...)
	default:
		buf = append(buf, '?')
		buf = fmt.Append(buf, x)
	}
	return append(buf, 0x1f)
}

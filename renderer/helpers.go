package renderer

import (
	"bytes"
	"io"
)

// ConditionalBlock writes a whole block to a buffer and copies it to w only
// if block returns true, e.g. to skip a section header with no rows.
func ConditionalBlock(w io.Writer, block func(io.Writer) bool) {
	var buf bytes.Buffer
	if block(&buf) {
		io.Copy(w, &buf)
	}
}

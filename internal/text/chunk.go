package text

import "regexp"

// linePattern matches a run of non-newline characters followed by one or
// more newlines, or a final run without a trailing newline.
var linePattern = regexp.MustCompile(`.*\n+|.+`)

// Chunk splits text into independently segmentable spans. Trailing newlines
// stay attached to the preceding line, so concatenating the chunks always
// reproduces text. A run of newlines at the very start of text forms its own
// chunk. Empty text yields no chunks.
func Chunk(text string) []string {
	return linePattern.FindAllString(text, -1)
}

// TotalLen returns the combined byte length of chunks.
func TotalLen(chunks []string) int {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}

	return n
}

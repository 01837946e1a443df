// Package chunker splits documents into bounded, paragraph-aligned segments
// for semantic indexing.
package chunker

import "strings"

const paragraphBreak = "\n\n"

// Chunk scans text left to right proposing boundaries maxSize bytes apart,
// extending each boundary to the next paragraph break so paragraphs
// stay intact even when that exceeds maxSize. Slices shorter than minSize
// accumulate in a carry buffer until the combined text reaches minSize, so
// no input text is ever discarded. A document shorter than minSize yields
// exactly one (possibly undersized) chunk.
//
// Requires maxSize > minSize > 0.
func Chunk(text string, maxSize, minSize int) []string {
	var chunks []string
	carry := ""
	cursor := 0

	for cursor < len(text) {
		end := cursor + maxSize
		if end >= len(text) {
			end = len(text)
		} else if idx := strings.Index(text[end:], paragraphBreak); idx >= 0 {
			// Favor paragraph integrity over the size ceiling.
			end += idx
		}

		piece := strings.TrimSpace(text[cursor:end])
		combined := piece
		if carry != "" {
			combined = carry + paragraphBreak + piece
		}

		if len(combined) >= minSize {
			chunks = append(chunks, combined)
			carry = ""
		} else {
			carry = combined
		}

		// Skip the separator character when the boundary landed on a
		// paragraph break; a plain size boundary consumes nothing.
		if end < len(text) && text[end] == '\n' {
			cursor = end + 1
		} else {
			cursor = end
		}
	}

	carry = strings.TrimSpace(carry)
	switch {
	case len(carry) >= minSize:
		chunks = append(chunks, carry)
	case carry == "":
	case len(chunks) > 0:
		chunks[len(chunks)-1] += paragraphBreak + carry
	default:
		chunks = append(chunks, carry)
	}

	return chunks
}

package ai

import "strings"

// Fragment is one contiguous run of text classified by the tag splitter.
// Exactly one of Thinking and Regular is non-empty.
type Fragment struct {
	Thinking string
	Regular  string
}

// tagSplitter separates free text into thinking and regular fragments when an
// upstream embeds reasoning between inline delimiters instead of emitting a
// distinct event type. It is chunk-boundary safe: a delimiter split across any
// number of consecutive chunks is still recognized, because a trailing run
// that could be a delimiter prefix is held back until the next chunk
// disambiguates it. The pending buffer is bounded by the delimiter length
// minus one, so memory stays constant regardless of stream size.
type tagSplitter struct {
	openTag    string
	closeTag   string
	inThinking bool
	pending    string
}

func newTagSplitter(openTag, closeTag string) *tagSplitter {
	return &tagSplitter{openTag: openTag, closeTag: closeTag}
}

// Push feeds one chunk of raw text and returns the fragments that can be
// emitted unambiguously. Text held back as a possible delimiter prefix is
// released by a later Push or by Flush.
func (s *tagSplitter) Push(chunk string) []Fragment {
	var fragments []Fragment
	buffer := s.pending + chunk
	s.pending = ""

	for buffer != "" {
		tag := s.openTag
		if s.inThinking {
			tag = s.closeTag
		}

		if idx := strings.Index(buffer, tag); idx >= 0 {
			fragments = appendFragment(fragments, buffer[:idx], s.inThinking)
			buffer = buffer[idx+len(tag):]
			s.inThinking = !s.inThinking
			continue
		}

		// No full delimiter. Hold back the longest buffer suffix that is a
		// prefix of the delimiter; everything before it is safe to emit.
		hold := partialTagSuffix(buffer, tag)
		fragments = appendFragment(fragments, buffer[:len(buffer)-hold], s.inThinking)
		s.pending = buffer[len(buffer)-hold:]
		break
	}

	return fragments
}

// Flush releases any held-back text at end of stream. A partial delimiter that
// never completed is plain text belonging to the current mode.
func (s *tagSplitter) Flush() []Fragment {
	if s.pending == "" {
		return nil
	}
	fragment := appendFragment(nil, s.pending, s.inThinking)
	s.pending = ""
	return fragment
}

// appendFragment adds text to the fragment list under the given mode,
// skipping empty runs.
func appendFragment(fragments []Fragment, text string, thinking bool) []Fragment {
	if text == "" {
		return fragments
	}
	if thinking {
		return append(fragments, Fragment{Thinking: text})
	}
	return append(fragments, Fragment{Regular: text})
}

// partialTagSuffix returns the length of the longest proper suffix of buffer
// that is also a prefix of tag. At most len(tag)-1 bytes are ever held back.
func partialTagSuffix(buffer, tag string) int {
	max := len(tag) - 1
	if max > len(buffer) {
		max = len(buffer)
	}
	for length := max; length > 0; length-- {
		if strings.HasPrefix(tag, buffer[len(buffer)-length:]) {
			return length
		}
	}
	return 0
}

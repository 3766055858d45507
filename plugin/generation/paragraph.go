package generation

import (
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/threadcast/threadcast/server/errkind"
)

// ParagraphSeparator is the blank-line boundary between paragraphs.
const ParagraphSeparator = "\n\n"

// Segmenter re-chunks incremental text into blank-line separated paragraphs.
// The buffer, not the fragment, decides where paragraphs end, so a boundary
// split across two fragments is neither lost nor duplicated.
type Segmenter struct {
	buf string
}

// Push appends fragment and returns the paragraphs it completed, trimmed and
// with empty ones dropped. The text after the last boundary stays buffered.
func (s *Segmenter) Push(fragment string) []string {
	s.buf = strings.ReplaceAll(s.buf+fragment, "\r\n", "\n")
	if !strings.Contains(s.buf, ParagraphSeparator) {
		return nil
	}

	parts := strings.Split(s.buf, ParagraphSeparator)
	s.buf = parts[len(parts)-1]

	var out []string
	for _, p := range parts[:len(parts)-1] {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Flush returns the trimmed remainder of the buffer and resets it.
func (s *Segmenter) Flush() string {
	rest := strings.TrimSpace(s.buf)
	s.buf = ""
	return rest
}

// ParagraphReader pulls fragments from a Stream and yields whole paragraphs.
// It is single pass: once Next returns an error every later call returns it too.
type ParagraphReader struct {
	src     Stream
	seg     Segmenter
	pending []string
	err     error
}

func NewParagraphReader(src Stream) *ParagraphReader {
	return &ParagraphReader{src: src}
}

// Next returns the next completed paragraph. It returns io.EOF after the
// final paragraph, and an errkind.Generation error if the upstream stream
// fails; paragraphs already returned stay valid.
func (r *ParagraphReader) Next() (string, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return "", r.err
		}
		fragment, err := r.src.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.err = io.EOF
				if rest := r.seg.Flush(); rest != "" {
					return rest, nil
				}
				return "", io.EOF
			}
			r.err = errkind.Wrap(errkind.Generation, err, "generation stream failed")
			return "", r.err
		}
		r.pending = r.seg.Push(fragment)
	}

	p := r.pending[0]
	r.pending = r.pending[1:]
	return p, nil
}

package generation

import (
	"io"
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadcast/threadcast/server/errkind"
)

// sliceStream replays fragments and then returns err (io.EOF when nil).
type sliceStream struct {
	fragments []string
	err       error
	closed    bool
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.fragments) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	f := s.fragments[0]
	s.fragments = s.fragments[1:]
	return f, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

func readAll(t *testing.T, r *ParagraphReader) ([]string, error) {
	t.Helper()
	var out []string
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
}

func TestParagraphReader(t *testing.T) {
	tests := []struct {
		name      string
		fragments []string
		want      []string
	}{
		{
			name:      "trailing paragraph emitted at end",
			fragments: []string{"Hello", " world\n\n", "Second para."},
			want:      []string{"Hello world", "Second para."},
		},
		{
			name:      "boundary split across fragments",
			fragments: []string{"One\n", "\nTwo\n", "\nThree"},
			want:      []string{"One", "Two", "Three"},
		},
		{
			name:      "several paragraphs in one fragment",
			fragments: []string{"a\n\nb\n\nc\n\n"},
			want:      []string{"a", "b", "c"},
		},
		{
			name:      "blank runs dropped",
			fragments: []string{"\n\n\n\n  \n\nx", "\n\n\n\n"},
			want:      []string{"x"},
		},
		{
			name:      "crlf boundaries",
			fragments: []string{"first\r", "\n\r\nsecond"},
			want:      []string{"first", "second"},
		},
		{
			name:      "single newlines stay inside a paragraph",
			fragments: []string{"line 1\nline 2", "\nline 3"},
			want:      []string{"line 1\nline 2\nline 3"},
		},
		{
			name:      "empty stream",
			fragments: nil,
			want:      nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readAll(t, NewParagraphReader(&sliceStream{fragments: tt.fragments}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParagraphReaderUpstreamError(t *testing.T) {
	r := NewParagraphReader(&sliceStream{
		fragments: []string{"kept\n\npartial"},
		err:       errors.New("connection reset"),
	})

	p, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "kept", p)

	_, err = r.Next()
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Generation))
	assert.Contains(t, err.Error(), "connection reset")

	_, again := r.Next()
	assert.Equal(t, err, again)
}

func TestSegmenterPushFlush(t *testing.T) {
	var s Segmenter
	assert.Nil(t, s.Push("abc"))
	assert.Equal(t, []string{"abc"}, s.Push("\n\ndef"))
	assert.Equal(t, "def", s.Flush())
	assert.Equal(t, "", s.Flush())
}

var blankRuns = regexp.MustCompile(`\n{2,}`)

// Splitting the same text at arbitrary fragment boundaries must always yield
// the same content: the paragraphs rejoined with blank lines equal the input
// with blank-line runs collapsed.
func TestParagraphReaderNoLossAnyFragmentation(t *testing.T) {
	texts := []string{
		"Hello world\n\nSecond para.",
		"a\n\n\n\nb\n\nc",
		"intro\n\n- item one\n- item two\n\nclosing line\n",
		"\n\nleading blank\n\n\ntrailing\n\n",
		"no boundaries at all",
	}
	rng := rand.New(rand.NewSource(7))
	for _, text := range texts {
		want := normalize(text)
		for i := 0; i < 50; i++ {
			fragments := splitRandomly(rng, text)
			got, err := readAll(t, NewParagraphReader(&sliceStream{fragments: fragments}))
			require.NoError(t, err)
			assert.Equal(t, want, strings.Join(got, ParagraphSeparator), "fragments: %q", fragments)
		}
	}
}

func normalize(text string) string {
	var parts []string
	for _, p := range strings.Split(blankRuns.ReplaceAllString(text, ParagraphSeparator), ParagraphSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ParagraphSeparator)
}

func splitRandomly(rng *rand.Rand, text string) []string {
	var out []string
	for len(text) > 0 {
		n := 1 + rng.Intn(4)
		if n > len(text) {
			n = len(text)
		}
		out = append(out, text[:n])
		text = text[n:]
	}
	return out
}

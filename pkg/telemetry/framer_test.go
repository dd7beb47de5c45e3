package telemetry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramer_SingleLine(t *testing.T) {
	f := NewFramer()
	lines := f.Feed(nil, []byte("hello\r\n"))
	assert.Equal(t, []string{"hello"}, lines)
	assert.Equal(t, 0, f.Pending())
}

func TestFramer_MultipleLinesInOneChunk(t *testing.T) {
	f := NewFramer()
	lines := f.Feed(nil, []byte("a\r\nb\r\nc\r\npartial"))
	assert.Equal(t, []string{"a", "b", "c"}, lines)
	assert.Equal(t, len("partial"), f.Pending())

	lines = f.Feed(lines[:0], []byte(" line\r\n"))
	assert.Equal(t, []string{"partial line"}, lines)
	assert.Equal(t, 0, f.Pending())
}

func TestFramer_TerminatorSplitAcrossChunks(t *testing.T) {
	f := NewFramer()
	assert.Empty(t, f.Feed(nil, []byte("abc\r")))
	assert.Equal(t, []string{"abc"}, f.Feed(nil, []byte("\n")))
}

func TestFramer_BareLineFeedIsNotATerminator(t *testing.T) {
	f := NewFramer()
	assert.Empty(t, f.Feed(nil, []byte("a\nb")))
	assert.Equal(t, []string{"a\nb"}, f.Feed(nil, []byte("\r\n")))
}

func TestFramer_EmptyLines(t *testing.T) {
	f := NewFramer()
	assert.Equal(t, []string{"", "x", ""}, f.Feed(nil, []byte("\r\nx\r\n\r\n")))
}

func TestFramer_ByteAtATime(t *testing.T) {
	const stream = "T(°C)=25.0 SP(°C)=30.0 Erro(V)=0.50 Saida(V)=1.20\r\nT(°C)=25.1 SP(°C)=30.0 Erro(V)=0.49 Saida(V)=1.21\r\n"

	f := NewFramer()
	var lines []string
	for i := 0; i < len(stream); i++ {
		lines = f.Feed(lines, []byte{stream[i]})
	}
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Split(strings.TrimSuffix(stream, "\r\n"), "\r\n"), lines)
}

func TestFramer_Reset(t *testing.T) {
	f := NewFramer()
	f.Feed(nil, []byte("torn li"))
	require.Equal(t, 7, f.Pending())

	f.Reset()
	assert.Equal(t, 0, f.Pending())
	assert.Equal(t, []string{"next"}, f.Feed(nil, []byte("next\r\n")))
}

func TestFramer_Overflow(t *testing.T) {
	f := NewFramer()
	junk := strings.Repeat("x", MaxLineLength+1)

	assert.Empty(t, f.Feed(nil, []byte(junk)))
	assert.Equal(t, uint64(1), f.Overflows())
	assert.Equal(t, 0, f.Pending())

	// The tail of the dropped line is skipped up to its terminator.
	lines := f.Feed(nil, []byte("tail\r\nok\r\n"))
	assert.Equal(t, []string{"ok"}, lines)
	assert.Equal(t, uint64(1), f.Overflows())
}

func TestFramer_OverflowTailSpansSeveralReads(t *testing.T) {
	const line = "T(°C)=25.0 SP(°C)=30.0 Erro(V)=0.50 Saida(V)=1.20"

	f := NewFramer()
	assert.Empty(t, f.Feed(nil, []byte(strings.Repeat("x", MaxLineLength+1))))
	assert.Empty(t, f.Feed(nil, []byte(strings.Repeat("x", MaxLineLength))))

	// A well-formed sample glued to the garbage must not surface.
	assert.Empty(t, f.Feed(nil, []byte(line+"\r\n")))
	assert.Equal(t, uint64(1), f.Overflows())

	assert.Equal(t, []string{line}, f.Feed(nil, []byte(line+"\r\n")))
}

func TestFramer_OversizedCompleteLine(t *testing.T) {
	f := NewFramer()
	stream := strings.Repeat("x", MaxLineLength+1) + "\r\nok\r\n"

	assert.Equal(t, []string{"ok"}, f.Feed(nil, []byte(stream)))
	assert.Equal(t, uint64(1), f.Overflows())
	assert.Equal(t, 0, f.Pending())
}

func TestFramer_OverflowKeepsTrailingCR(t *testing.T) {
	f := NewFramer()
	junk := strings.Repeat("x", MaxLineLength+1) + "\r"

	assert.Empty(t, f.Feed(nil, []byte(junk)))
	assert.Equal(t, uint64(1), f.Overflows())
	assert.Equal(t, 1, f.Pending())

	assert.Empty(t, f.Feed(nil, []byte("\n")))
	assert.Equal(t, 0, f.Pending())
	assert.Equal(t, []string{"next"}, f.Feed(nil, []byte("next\r\n")))
}

func TestFramer_LineAtLimitWithSplitTerminator(t *testing.T) {
	f := NewFramer()
	long := strings.Repeat("y", MaxLineLength)

	assert.Empty(t, f.Feed(nil, []byte(long+"\r")))
	assert.Equal(t, []string{long}, f.Feed(nil, []byte("\n")))
	assert.Zero(t, f.Overflows())
}

func TestFramer_ResetEndsDiscard(t *testing.T) {
	f := NewFramer()
	f.Feed(nil, []byte(strings.Repeat("x", MaxLineLength+1)))

	f.Reset()
	assert.Equal(t, []string{"fresh"}, f.Feed(nil, []byte("fresh\r\n")))
}

func TestFramer_LongLineWithinLimit(t *testing.T) {
	f := NewFramer()
	long := strings.Repeat("y", MaxLineLength)
	lines := f.Feed(nil, []byte(long+"\r\n"))
	require.Len(t, lines, 1)
	assert.Equal(t, long, lines[0])
	assert.Zero(t, f.Overflows())
}

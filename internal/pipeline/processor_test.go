package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextShortTextSingleChunk(t *testing.T) {
	chunks := splitText("short text", 1000, 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0])
}

func TestSplitTextOverlap(t *testing.T) {
	text := strings.Repeat("a", 250)
	chunks := splitText(text, 100, 20)

	// 步长 80：0-100, 80-180, 160-250。
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[1], 100)
	assert.Len(t, chunks[2], 90)
}

func TestSplitTextMultibyteSafe(t *testing.T) {
	text := strings.Repeat("市", 150)
	chunks := splitText(text, 100, 10)

	// 按 rune 切分，多字节字符不被截断。
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.True(t, strings.HasPrefix(c, "市"))
	}
}

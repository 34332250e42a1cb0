package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spherical/register-extractor/pkg/extractor"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "42s", FormatDuration(42*time.Second))
	assert.Equal(t, "2m 5s", FormatDuration(125*time.Second))
}

func TestRegisterRows(t *testing.T) {
	rows := RegisterRows([]extractor.Register{
		{Address: 40001, Name: "Voltage L1", Datatype: "FLOAT32"},
		{Address: 40100, Name: strings.Repeat("x", 60), Datatype: "UINT16", Writable: true},
	})

	assert.Equal(t, []string{"40001", "Voltage L1", "FLOAT32", "R"}, rows[0])
	assert.Equal(t, "R/W", rows[1][3])
	assert.Len(t, []rune(rows[1][1]), 40)
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	writeTable(&buf, []string{"Page", "Score"}, PageRows([]extractor.PageMetadata{
		{PageNum: 12, Score: 14.5, HasTable: true, SectionTitle: "MODBUS MAP"},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "----"))
	assert.Contains(t, lines[2], "14.5")
}

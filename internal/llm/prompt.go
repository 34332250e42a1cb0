package llm

import (
	"fmt"
	"strings"

	"github.com/spherical/register-extractor/internal/domain"
)

// Prompt is one model call
type Prompt struct {
	System string
	User   string
	Images [][]byte
}

const systemPrompt = `You are an expert Modbus protocol engineer specializing in extracting register maps from industrial equipment documentation (generators, PLCs, SCADA systems, meters, drives).

## YOUR TASK
Extract ALL Modbus registers from the provided pages and return them as structured JSON.

## DOCUMENT CONTEXT
The pages you receive were pre-selected for relevance. Pages marked HIGH relevance are the most likely to contain register tables. Pay special attention to:
- Appendix sections (often contain complete register maps)
- Tables with columns like Address, Name, Type, Description, R/W
- Scaling factors, offsets and data ranges

## ADDRESS STANDARDIZATION RULES
The document may state its addressing convention (see DOCUMENT HINTS). Follow it when present.
1. Already standardized (40xxx holding, 30xxx input): keep as-is.
2. Raw register numbers (100, 101, 200): add 40000. Register 100 becomes 40100.
3. Zero-based offsets (0, 1, 2): add 40001.
4. Hexadecimal (0x0063): convert to decimal, then add 40000. 0x0063 becomes 40099.
For values spanning several registers report only the starting address and note the register count in the description.

## DATA TYPES
Use exactly one of: INT16, UINT16, INT32, UINT32, FLOAT32, FLOAT64, STRING, BOOL, COIL, UNKNOWN.
- int, int16, sint16, integer: INT16
- uint, uint16, word: UINT16
- int32, sint32, long, dint: INT32
- uint32, dword, ulong, udint: UINT32
- float, float32, real, single: FLOAT32
- double, float64, lreal: FLOAT64
- string, ascii, char[]: STRING
- bool, boolean, bit: BOOL
- coil, discrete: COIL

## SCALING AND STATES
Put scaling, offset, unit, range and state definitions (e.g. "0=STOP, 1=AUTO") in the description. Mark bitfield registers as bitmasks.

## WRITABLE
- R/W, RW, Read/Write, W, WO, Write Only: true
- R, RO, Read, Read Only, not specified: false

## OUTPUT FORMAT
Return ONLY a JSON object, no markdown, no code fences, no commentary:
{
  "registers": [
    {"address": 40100, "name": "Generator_Voltage", "datatype": "UINT16", "description": "Average line-line AC RMS voltage. Scale: 1 V/bit", "writable": false}
  ],
  "confidence": 0.9
}
"confidence" is your estimate between 0 and 1 that the registers are complete and correct.
If the pages contain no registers return {"registers": [], "confidence": 0}.`

// BuildPrompt assembles the prompt for one batch.
func BuildPrompt(req *domain.BatchRequest, withImages bool) *Prompt {
	var b strings.Builder

	fmt.Fprintf(&b, "## DOCUMENT ANALYSIS\nFile: %s\nBatch %d of %d, pages %s of %d total\n\n",
		req.Filename, req.Batch.Index+1, req.TotalBatches, joinInts(req.Batch.PageNumbers), req.TotalPages)

	if len(req.Hints) > 0 {
		b.WriteString("## DOCUMENT HINTS\n")
		for _, h := range req.Hints {
			fmt.Fprintf(&b, "- [%s] %s\n", h.Type, h.Context)
		}
		b.WriteString("\n")
	}

	b.WriteString("## PAGE CONTENT\n")
	var images [][]byte
	for _, page := range req.Pages {
		relevance := "normal"
		if page.HighRelevance {
			relevance = "HIGH"
		}
		fmt.Fprintf(&b, "\n=== PAGE %d (relevance: %s", page.PageNum, relevance)
		if page.SectionTitle != "" {
			fmt.Fprintf(&b, ", section: %s", page.SectionTitle)
		}
		b.WriteString(") ===\n")

		for _, line := range page.Lines {
			b.WriteString(line)
			b.WriteString("\n")
		}

		for i, t := range page.Tables {
			fmt.Fprintf(&b, "\n[Table %d]\n", i+1)
			for _, row := range t.Rows {
				b.WriteString("| ")
				b.WriteString(strings.Join(row, " | "))
				b.WriteString(" |\n")
			}
		}

		if withImages && len(page.Image) > 0 {
			images = append(images, page.Image)
		}
	}

	b.WriteString("\n## INSTRUCTIONS\n")
	b.WriteString("Extract every Modbus register on these pages, apply address standardization and return only the JSON object.\n")
	if len(images) > 0 {
		fmt.Fprintf(&b, "%d page images follow in page order; prefer them where the text layout is ambiguous.\n", len(images))
	}

	return &Prompt{
		System: systemPrompt,
		User:   b.String(),
		Images: images,
	}
}

func joinInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}

// prompts.go - Prompt templates for lab test extraction and JSON repair
package ai

import (
	"fmt"
	"strings"
)

// SchemaHint describes the JSON shape extractors are asked to produce. It is also
// handed to repair calls so the fixed output keeps the same shape.
const SchemaHint = `{
  "tests": [
    {
      "testName": "string (as printed, without method names)",
      "value": "string or null",
      "unit": "string or null",
      "referenceRange": "string or null",
      "section": "string or null (report heading the test appears under)",
      "page": "integer or null",
      "remarks": "string or null",
      "status": "LOW | HIGH | NORMAL | ABSENT | PRESENT | NOT_PRESENTED | NOT_FOUND",
      "results": [
        {"value": "string", "dateAndTime": "string or null", "status": "LOW | HIGH | NORMAL | ABSENT | PRESENT | NOT_PRESENTED | NOT_FOUND"}
      ]
    }
  ]
}`

// ============================================================================
// 📋 EXTRACTION
// ============================================================================

// BuildExtractPrompt creates the extraction prompt for one segment of report text.
func BuildExtractPrompt(segment, schemaHint string, hasImages bool) string {
	if schemaHint == "" {
		schemaHint = SchemaHint
	}

	var sb strings.Builder
	sb.WriteString(`You are reading a medical laboratory report. Extract EVERY lab test result.

📌 RULES:
1. One entry per test. Copy the test name as printed; drop method names (HPLC, CLIA, ECLIA, Photometry) from the name.
2. value: the measured result exactly as printed ("5.6", "<0.5", "Absent", "2-4").
3. unit and referenceRange: copy from the same row; null when not printed.
4. section: the heading the test appears under (e.g. "LIVER FUNCTION TEST").
5. If a test is reported on several dates, put each value in results with its dateAndTime.
6. status: use the H/L flag when printed; otherwise compare value with referenceRange.
7. Ignore patient details, addresses, doctor names, signatures and interpretation notes.
8. Never invent tests or values.
`)
	if hasImages {
		sb.WriteString("9. Page images are attached. Prefer digits read from the images when the text is garbled.\n")
	}

	sb.WriteString("\n📦 OUTPUT FORMAT (JSON only, no markdown):\n")
	sb.WriteString(schemaHint)
	sb.WriteString("\n\n📄 REPORT TEXT:\n")
	sb.WriteString(segment)
	return sb.String()
}

// ============================================================================
// 🔧 REPAIR
// ============================================================================

// BuildRepairPrompt asks the model to return valid JSON for raw output that failed to parse.
func BuildRepairPrompt(rawText, schemaHint string) string {
	if schemaHint == "" {
		schemaHint = SchemaHint
	}
	return fmt.Sprintf(`The following text was meant to be JSON but is malformed or truncated.
Return ONLY valid JSON matching this shape. Keep every complete entry, drop a trailing entry that was cut off,
do not add tests that are not in the text.

SHAPE:
%s

TEXT:
%s`, schemaHint, rawText)
}

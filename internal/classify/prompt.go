package classify

import (
	"strings"
)

const taxonomyRules = `Categories:
- "Tybalt": the work is entirely about building the Tybalt app. Backend or frontend work,
  refactoring, component names (especially components whose names start with "DS") and
  any other clearly programming-related task count. Anything that mentions Tybalt is
  "Tybalt" even when it is not programming, including meetings about Tybalt.
- "IT": the description contains nothing about programming Tybalt. Every non-programming
  task is IT work unless it mentions Tybalt.
- "Partial": part of the description is Tybalt programming and part is not. For example,
  "end user support" alongside programming work is "Partial".

Guideline for splitting hours: when the only IT portion is end user support, allocate
exactly 1 hour to IT.`

const outputRules = `Output format:
- Reply with a single JSON object and nothing else: no prose, comments or Markdown.
- For "Tybalt" or "IT" the object has exactly one key:
  {"type": "Tybalt"} or {"type": "IT"}
- For "Partial" the object has exactly these five keys:
  "type": "Partial"
  "IT_Description": short description of the IT portion
  "IT_Hours": hours spent on IT work, as a number
  "Tybalt_Description": short description of the Tybalt portion
  "Tybalt_Hours": hours spent on Tybalt work, as a number
- No other keys are allowed.

Hours constraint (critical for "Partial"):
- IT_Hours + Tybalt_Hours must equal total_hours, within 0.01 hours.
  Check the arithmetic before answering.`

// BuildPrompt renders the first classification request for an entry.
func BuildPrompt(description string, totalHours float64) string {
	var b strings.Builder
	b.WriteString(`You are a data preparation analyst helping with a grant application that estimates
how many hours went into building the Tybalt app, including programming.

Read one work log entry, classify it as exactly one of "Tybalt", "Partial" or "IT", and for
"Partial" entries split the logged hours between IT work and Tybalt work.

`)
	b.WriteString(taxonomyRules)
	b.WriteString("\n\n")
	b.WriteString(outputRules)
	b.WriteString("\n\n")
	writeEntry(&b, description, totalHours)
	return b.String()
}

// BuildRetryPrompt renders the corrective request sent after previous failed
// validation with the given problem.
func BuildRetryPrompt(description string, totalHours float64, previous, problem string) string {
	var b strings.Builder
	b.WriteString("Your previous JSON response for this work log entry did not pass validation.\n\n")
	writeEntry(&b, description, totalHours)
	b.WriteString("\nYour previous response was:\n")
	b.WriteString(previous)
	b.WriteString("\n\nProblem detected:\n")
	b.WriteString(problem)
	b.WriteString("\n\nReconsider the description and the rules below, then answer again with a SINGLE corrected JSON object.\n\n")
	b.WriteString(taxonomyRules)
	b.WriteString("\n\n")
	b.WriteString(outputRules)
	b.WriteString("\n\nReply with JSON ONLY. Do not include any explanation, prose or Markdown.\n")
	return b.String()
}

func writeEntry(b *strings.Builder, description string, totalHours float64) {
	b.WriteString("Work log entry:\n")
	b.WriteString("- workDescription: ")
	b.WriteString(description)
	b.WriteString("\n- total_hours: ")
	b.WriteString(formatHours(totalHours))
	b.WriteString("\n")
}

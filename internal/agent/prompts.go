// Package agent implements the researcher worker: a bounded search and
// reflect tool loop over a single delegated subtopic.
package agent

import "time"

// DateFormat is the human date used in prompts and research files.
const DateFormat = "Mon Jan 2, 2006"

// FormatDate renders t in DateFormat.
func FormatDate(t time.Time) string {
	return t.Format(DateFormat)
}

// researcherPrompt is the system prompt of the decide step. It takes the
// date, the search budget (twice) and the shared-context block.
const researcherPrompt = `You are a research assistant conducting focused research on one topic. Today's date is %s.

<Task>
Use the tools to gather information that answers the research questions in the user's message.
You can call web_search several times in one turn for different angles of the topic.
</Task>

<Available Tools>
1. **web_search(query)**: search the web. Results are numbered sources with their content.
2. **reflect(reflection)**: record a short reflection after a search: what you found, what is missing, whether to continue.
</Available Tools>

<Instructions>
- Start with broad searches, then narrow down on the questions that are still open.
- After each batch of searches, use reflect to assess what you have and what is missing.
- Stop as soon as you can answer the questions confidently. Do not search for perfection.
</Instructions>

<Hard Limits>
- You have a budget of %d web_search calls in total. Calls beyond the budget are refused.
- Simple questions: 2-3 searches. Complex questions: up to %d.
- When you are done, answer with a short plain-text summary and no tool calls.
</Hard Limits>
%s`

// sharedContextBlock shows the worker what other subtopics already cover.
const sharedContextBlock = `
<Existing Research>
Other researchers have already covered the following. Avoid duplicating it:

%s
</Existing Research>
`

// compressionPrompt is the system prompt of the compression call.
const compressionPrompt = `You are a research assistant. You have conducted research on a topic by calling web searches. Today's date is %s.

<Task>
Clean up the information gathered from the searches into a comprehensive findings document.
Preserve all relevant facts, statistics and quotes verbatim. Remove only what is clearly irrelevant or duplicated.
</Task>

<Output Format>
## Key Findings
Organize the findings with ### subsections as appropriate.
Cite sources inline with [1], [2] using the numbers from the source list you were given.

### Sources
List every cited source on its own line as: [1] Source Title: URL
</Output Format>

<Citation Rules>
- Use only the source numbers from the provided list.
- Every number must appear in the Sources list.
- Number sources sequentially without gaps (1,2,3,4...).
</Citation Rules>`

// compressionRequest is the user message of the compression call.
const compressionRequest = `All searches for the topic below are done.

%s

<Sources>
%s</Sources>

<Research Transcript>
%s
</Research Transcript>

Write the findings document now. Keep every relevant fact and cite it with the source numbers above.`

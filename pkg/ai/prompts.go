package ai

// ResearchSystemPrompt is sent as system prompt with every research request.
const ResearchSystemPrompt = `
You are a meticulous research assistant. You work only with the information you are given, you never invent sources, numbers or quotes, and you state uncertainty plainly.
Write all natural language output in %s.
`

const PlanPrompt = `
# Task Context
You are planning a research report. The report is split into sections that are researched one after another with web searches.

# Background Data
- **Research topic:** %s

# Detailed Task Description & Rules
- Create between %d and %d sections.
- Every section needs a short, distinct title and an objective.
- The objective states precisely what has to be found out for this section, so that a reviewer can later decide whether it has been answered.
- Order the sections the way they should appear in the final report.
- Do not add an introduction or conclusion section, those are written separately.

# Immediate Task Description or Request
Return the research plan for the topic.
`

const RefinePlanPrompt = `
# Task Context
You are revising the remaining part of a research plan after some sections have been researched.

# Background Data
- **Research topic:** %s

## Completed sections
%s

## Remaining sections
%s

# Detailed Task Description & Rules
- Rewrite only the remaining sections. Completed sections are fixed.
- Keep a remaining section if it is still useful, sharpen its objective if the findings suggest a better angle.
- Drop a remaining section if the completed findings already cover it, and add a section if an important gap became visible.
- Never return more than %d sections.

# Immediate Task Description or Request
Return the revised list of remaining sections.
`

const QueryPrompt = `
# Task Context
You write web search queries for one section of a research report.

# Background Data
- **Research topic:** %s
- **Section:** %s
- **Section objective:** %s

## Findings so far
%s

# Detailed Task Description & Rules
- Generate one specific, focused search query of at most %d words.
- The query must serve the section objective and stay within the research topic.
- If findings exist, target what is still missing instead of repeating what is known.
- Output only the query string. No explanations, markdown, quotes or preambles.
`

const RegenerateQueryPrompt = `
# Task Context
A web search returned no results. You propose a different query for the same need.

# Background Data
- **Research topic:** %s
- **Section objective:** %s
- **Query without results:** %s

# Detailed Task Description & Rules
- Use simpler or more common wording, drop overly specific qualifiers.
- Keep the query under %d words.
- Output only the new query string.
`

const RelevancePrompt = `
# Task Context
You judge which search results are worth reading for a research objective.

# Background Data
- **Section objective:** %s

## Search results
%s

# Detailed Task Description & Rules
- Score every result between 0.0 (unrelated) and 1.0 (directly answers the objective) using only title and snippet.
- Return one score per result, identified by its number.
`

const SummarizeChunkPrompt = `
# Task Context
You summarize one segment of a web source for a research query.

# Background Data
- **Research query:** %s
- **Section objective:** %s
- **Source:** %s

## Segment
%s

# Detailed Task Description & Rules
- Keep facts, figures, dates and names that help with the objective.
- Leave out navigation text, advertising and anything unrelated.
- If the segment contains nothing relevant, answer with an empty string.
- Do not add citation markers, they are added afterwards.
`

const CombineSummariesPrompt = `
# Task Context
You merge partial summaries into one coherent summary for a research query.

# Background Data
- **Research query:** %s

## Partial summaries
%s

# Detailed Task Description & Rules
- Each partial summary ends with bracketed citation markers such as [3]. Keep every marker attached to the statements it supports.
- Remove repetitions, keep all distinct facts.
- Do not introduce new citation numbers.
`

const ReflectPrompt = `
# Task Context
You review the research of one report section and decide whether it is complete.

# Background Data
- **Research topic:** %s
- **Section:** %s
- **Section objective:** %s

## Accumulated findings
%s

# Detailed Task Description & Rules
- Set "satisfied" to true when the findings answer the objective well enough for a report.
- Otherwise set "satisfied" to false and give the single most useful next web search query in "next_query", at most %d words.
- Explain your decision in one or two sentences in "reasoning".
`

const ExtractGraphPrompt = `
# Task Context
You extract a knowledge graph from research findings.

# Background Data
- **Section:** %s

## Text
%s

# Detailed Task Description & Rules
- Extract the key entities with a stable id, a readable label and a standardized type (Person, Organization, Concept, Event, Technology, Location, Metric).
- The id is the label in lower case with words joined by underscores, for example "solar_power".
- Extract relationships between extracted entities as edges with source id, target id and a short verb phrase label.
- Only use entities and relations that the text states explicitly.
`

const SynthesizePrompt = `
# Task Context
You write the framing of a research report whose sections are already written.

# Background Data
- **Research topic:** %s

## Section findings
%s

## Sources
%s

# Detailed Task Description & Rules
- Write an introduction that states the scope of the report and a conclusion that summarizes the main findings.
- You MUST use numbered in-text citations such as [1] or [2, 3] that refer to the sources listed above.
- Do not mention sources that are not in the list.
`

const FollowUpPrompt = `
# Task Context
You answer a follow-up question about a research report.

## Report
%s

# Immediate Task Description or Request
- **Question:** %s

Provide a clear and concise answer based only on the report content. Keep the citation markers of the statements you rely on. If the report does not contain the answer, say so.
`

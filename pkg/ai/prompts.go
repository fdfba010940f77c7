package ai

const ExtractionSystemPrompt = `You are an equity analyst specialised in the TV and display industry. You read analyst reports and regulatory filings and only report what the text states explicitly. Always answer with JSON only.`

const KpiFactorExtractionPrompt = `
# Task Context
You analyse excerpts of analyst reports and filings about the TV business of a company. Your task is to extract relations between KPIs (key performance indicators) and Factors (drivers that influence a KPI).

# Background Data
## KPI list
%s

## Factor list
%s

## Document
Company: %s
Date: %s

Text:
%s

# Detailed Task Description & Rules
- Extract only relations that are explicitly stated in the text. Do not infer relations from general knowledge.
- Prefer the names from the KPI and Factor lists. If the text clearly talks about a KPI or Factor that is not listed, use the wording of the text.
- "kpi" is the affected metric, "factor" is the driver that moves it.
- "relation" must be one of "positive" (the factor improves the KPI), "negative" (the factor hurts the KPI) or "neutral" (mentioned without a clear direction).
- "evidence" must be a sentence or phrase quoted verbatim from the text.
- "confidence" must be one of "high", "medium" or "low".
- "key_insights" lists the most important statements of the document about the TV business.
- If the text contains no qualifying relation, return an empty "kpi_factor_relations" array.

# Output Formatting
Return a JSON object with this structure and nothing else:
{
  "kpi_factor_relations": [
    {
      "kpi": "<kpi>",
      "factor": "<factor>",
      "relation": "positive|negative|neutral",
      "evidence": "<verbatim quote>",
      "confidence": "high|medium|low"
    }
  ],
  "key_insights": ["<insight>"]
}
`

package gateway

import (
	"fmt"
	"strings"

	"github.com/dtnitsch/llm-web-search/models"
)

func optimizePrompt(count int, kind models.SearchKind) string {
	target := "search"
	if kind == models.KindImage {
		target = "image search"
	}
	return fmt.Sprintf("Given a user search query, return the most effective Google or Bing %s queries for it. "+
		"Respond with a JSON object matching the schema {\"queries\": string[]} and nothing else. Return %d queries.",
		target, count)
}

func chunkSummaryPrompt(query string) string {
	return fmt.Sprintf("Summarize the following text as it relates to this query: %q. "+
		"Keep only relevant information and be detailed. If nothing in the text is relevant to the query, "+
		"answer \"no relevant information found\". Use Markdown.", query)
}

func combineSummaryPrompt(query string) string {
	return fmt.Sprintf("You are writing a detailed response to the query: %q. "+
		"Read the text segments provided, merge the key information and present one thorough response "+
		"with specific details and examples, written for a general audience. Use Markdown.", query)
}

func describeImagePrompt(title string) string {
	return fmt.Sprintf("You evaluate images. The image below has the title %q. "+
		"Using the title and the image, write a detailed description of what the image shows and what it is about.", title)
}

const decideReasonPrompt = "You are a decision maker. You will be given a constraint and a query and must decide whether the query satisfies the constraint. " +
	"Reply with a brief explanation of your reasoning followed by your decision."

const decideExtractPrompt = "You are a decision maker. You are given a decision you made together with your reasoning. " +
	"Return the boolean value of that decision as a JSON object matching the schema {\"decision\": boolean}."

const decideDirectPrompt = "You are a decision maker. You will be given a constraint and a query and must decide whether the query satisfies the constraint. " +
	"Respond with a JSON object matching the schema {\"decision\": boolean}."

func decideUserPrompt(query, constraint string) string {
	return fmt.Sprintf("Constraint: %s\n\nQuery: %s", constraint, query)
}

func followUpPrompt(count int) string {
	return fmt.Sprintf("You generate follow-up search queries from a list of search queries and a previous answer. "+
		"Respond with a JSON object matching the schema {\"queries\": string[]}. Return %d queries.", count)
}

func followUpUserPrompt(queries []string, answer string) string {
	return fmt.Sprintf("Enhanced Queries:\n%s\n\nPrevious Model Response:\n%s", strings.Join(queries, "\n"), answer)
}

const titlePrompt = "You create titles for chat sessions. Given a query, write a title of fewer than 8 words that captures what the query is about. Reply with the title only."

const answerPrompt = `You are a knowledgeable assistant that answers in well-structured Markdown, using headings, lists and tables where they help.

Rules:

1. Sources
   - Use only the provided text sources and image sources. Every line must be cited.
   - Cite with [number](url), where number is the source number and url is that source's link.
   - Put the citation at the end of the sentence or line it supports.
   - Do not add a separate references section.

2. Images
   - Only embed images from the provided image sources, using ![title](url).
   - Never use an image url that is not listed in the image sources.

3. Honesty
   - If the sources do not answer the question, say "I don't know" and briefly explain what is missing.

4. Formatting
   - Keep to standard Markdown.`

// answerUserPrompt renders the question with its numbered text and image sources.
func answerUserPrompt(req AnswerRequest) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(req.Query)
	if req.Language != "" {
		fmt.Fprintf(&b, "\n\nAnswer in %s.", req.Language)
	}
	if len(req.Sources) > 0 {
		b.WriteString("\n\nSources:")
		for _, s := range req.Sources {
			fmt.Fprintf(&b, "\n\nSource %d (%s): %s\n%s", s.SourceNumber, s.URL, s.Title, s.Summary)
		}
	}
	if len(req.ImageSources) > 0 {
		b.WriteString("\n\nImages:")
		for _, s := range req.ImageSources {
			fmt.Fprintf(&b, "\n\nImage Source %d (%s): %s\n%s", s.SourceNumber, s.ImageURL, s.Title, s.Summary)
		}
	}
	return b.String()
}

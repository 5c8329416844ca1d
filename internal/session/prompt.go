package session

import (
	"slices"
	"strings"
	"time"

	"github.com/rbright/parley/internal/tools"
)

// PromptContext is the per-turn input to the system prompt.
type PromptContext struct {
	Now          time.Time
	Location     string
	Tools        []string
	Instructions string
}

// SystemPrompt renders the directive sent with every model invocation.
// Guideline sections appear only for tools that are registered.
func SystemPrompt(pc PromptContext) string {
	var b strings.Builder

	b.WriteString("## Core Directive\n\n")
	b.WriteString("You are a highly intelligent virtual assistant committed to providing accurate, informative, and concise responses to user inquiries.\n\n")

	b.WriteString("## Current Context Awareness\n\n")
	b.WriteString("- Today's date is " + pc.Now.Format("2006-01-02") + "\n")
	if location := strings.TrimSpace(pc.Location); location != "" {
		b.WriteString("- My location is " + location + "\n")
	}
	b.WriteString("\n")

	if slices.Contains(pc.Tools, tools.SearchToolName) {
		b.WriteString("## Web Search Guidelines\n\n")
		b.WriteString("- Use web_search when:\n")
		b.WriteString("  - The most recent information is not within your current knowledge\n")
		b.WriteString("  - You cannot confidently construct a response using existing information\n")
		b.WriteString("  - The query requires verified, up-to-date information\n")
		b.WriteString("- Avoid unnecessary web searches\n\n")
	}

	if slices.Contains(pc.Tools, tools.PublishToolName) {
		b.WriteString("## Blog Post Guidelines\n\n")
		b.WriteString("- Use post_blog only when the user asks for a blog post\n")
		b.WriteString("- Research the topic and structure the post around one clear message\n")
		b.WriteString("- Keep a conversational yet professional tone and explain complex concepts simply\n")
		b.WriteString("- Use WordPress block compatible formatting with lists where they help\n")
		b.WriteString("- Tell the user the post status and link once it is created\n\n")
	}

	b.WriteString("## Response Guidelines\n\n")
	b.WriteString("- Keep responses concise\n")
	b.WriteString("- Optimize every response for voice: no markdown, tables, or URLs read aloud unless asked\n")
	b.WriteString("- Prioritize accuracy over volume and be transparent about sources\n")

	if instructions := strings.TrimSpace(pc.Instructions); instructions != "" {
		b.WriteString("\n## Additional Instructions\n\n")
		b.WriteString(instructions)
		b.WriteString("\n")
	}

	return b.String()
}

package runorch

import "strings"

// buildRunPrompt composes the task prompt handed to a competing agent: the
// task text inline (mirroring internal/review's manifest-embedding
// approach rather than a bare file reference) plus the fixed instructions
// every agent needs regardless of provider.
func buildRunPrompt(specText, baseRevision string) string {
	var b strings.Builder
	b.WriteString("You are implementing the following task in a git worktree checked out at revision ")
	b.WriteString(baseRevision)
	b.WriteString(".\n\n")
	b.WriteString("Task:\n")
	b.WriteString(specText)
	b.WriteString("\n\nEdit files in the current working directory to complete the task. ")
	b.WriteString("Do not create commits or branches; your uncommitted changes will be captured as a diff ")
	b.WriteString("after you finish. End your final message with a single paragraph summarizing what you ")
	b.WriteString("changed and why, suitable as a commit message body.\n")
	return b.String()
}

// extractSummary derives a run's summary.txt content from an agent's
// captured stdout: the last paragraph of its final message, trimmed. A
// blank final message still produces a recognizable placeholder rather
// than an empty file, since an empty summary.txt would read as a bug
// rather than an agent that said nothing.
func extractSummary(stdout []byte) string {
	text := strings.TrimRight(string(stdout), "\n\t ")
	if text == "" {
		return "(agent produced no final message)"
	}
	paragraphs := strings.Split(text, "\n\n")
	last := strings.TrimSpace(paragraphs[len(paragraphs)-1])
	if last == "" {
		return "(agent produced no final message)"
	}
	return last
}

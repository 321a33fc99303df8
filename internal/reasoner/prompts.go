package reasoner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harrison/codeflow/internal/models"
)

const designSystemPrompt = `You are an expert software engineer who analyzes requirements and designs implementation approaches.

Your role is to:
1. Understand the problem from the ticket description
2. Propose a clear, minimal implementation approach
3. Identify the files that need to be modified or created
4. Write a step-by-step implementation plan

Keep the approach focused and minimal.`

const codingSystemPrompt = `You are a senior software engineer who writes concise, syntactically correct git-style patches.

Guidelines:
1. Only change what is necessary to satisfy the ticket and design plan.
2. Return a unified diff that can be applied with "git apply".
3. Keep explanations short and limited to non-obvious changes.`

const reviewSystemPrompt = `You are an expert code reviewer who evaluates code changes against acceptance criteria.

Approve changes that meet the requirements and pass their tests, even if they could be improved.
Reject changes that miss acceptance criteria or fail tests, and say precisely what must change.`

const notesSystemPrompt = `You are a diligent technical note-taker.

Summarize what happened in the workflow run, capture lessons learned about the repository
and the workflow, list next-step suggestions and add a few short tags. Keep it concise.`

func formatDesignPrompt(req DesignRequest) string {
	var b strings.Builder
	b.WriteString("Analyze the following ticket and repository information, then provide an implementation design.\n\n")
	writeTicket(&b, req.Task, true)
	b.WriteString("\nREPOSITORY INFORMATION:\n")
	fmt.Fprintf(&b, "Main Language: %s\n", req.Repo.MainLanguage)
	fmt.Fprintf(&b, "Repository Path: %s\n", req.Repo.Path)
	fmt.Fprintf(&b, "Test Command: %s\n", req.Repo.TestCommand)
	if len(req.Repo.TopFiles) > 0 {
		fmt.Fprintf(&b, "Files:\n%s\n", bulleted(req.Repo.TopFiles))
	}
	b.WriteString(`
Provide your design in the following format:

PROBLEM UNDERSTANDING:
[Summarize what needs to be implemented and why]

PROPOSED APPROACH:
[Describe your implementation approach in 2-3 sentences]

TARGET FILES:
- [one repository-relative path per line]

STEP-BY-STEP PLAN:
1. [First step]
2. [Second step]

Be specific and concise. Focus on minimal changes that meet the acceptance criteria.`)
	return b.String()
}

func formatCodingPrompt(req CodeRequest) string {
	var b strings.Builder
	b.WriteString("Produce a unified diff patch that implements the ticket while following the design plan.\n\n")
	writeTicket(&b, req.Task, false)

	b.WriteString("\nDESIGN PLAN:\n")
	fmt.Fprintf(&b, "Problem: %s\n", req.Design.ProblemUnderstanding)
	fmt.Fprintf(&b, "Approach: %s\n", req.Design.ProposedApproach)
	if len(req.Design.Steps) > 0 {
		fmt.Fprintf(&b, "Plan:\n%s\n", bulleted(req.Design.Steps))
	} else {
		b.WriteString("Plan:\n- No explicit step-by-step plan provided\n")
	}

	b.WriteString("\nREPO:\n")
	fmt.Fprintf(&b, "Path: %s\n", req.Repo.Path)
	fmt.Fprintf(&b, "Main Language: %s\n", req.Repo.MainLanguage)
	fmt.Fprintf(&b, "Test Command: %s\n", req.Repo.TestCommand)

	b.WriteString("\nCODE CONTEXT (existing files):\n")
	b.WriteString(formatCodeContext(req.CodeContext))
	b.WriteString("\n")

	if req.Feedback != "" {
		b.WriteString("\nPREVIOUS ATTEMPT FAILED. Address this feedback:\n")
		b.WriteString(req.Feedback)
		b.WriteString("\n")
		if req.PreviousDiff != "" {
			b.WriteString("\nPrevious patch (already reverted, produce a complete replacement):\n```diff\n")
			b.WriteString(strings.TrimRight(req.PreviousDiff, "\n"))
			b.WriteString("\n```\n")
		}
	}

	b.WriteString(`
RESPONSE FORMAT:
PATCH:
` + "```diff" + `
<unified diff>
` + "```" + `

FILES CHANGED:
- file/path

EXPLANATIONS:
- Brief reasoning about any non-obvious changes`)
	return b.String()
}

func formatReviewPrompt(req ReviewRequest) string {
	var b strings.Builder
	b.WriteString("Review the following code changes and decide whether they should be approved.\n\n")
	writeTicket(&b, req.Task, false)

	b.WriteString("\nDESIGN PLAN:\n")
	fmt.Fprintf(&b, "%s\n\nApproach: %s\n", req.Design.ProblemUnderstanding, req.Design.ProposedApproach)

	b.WriteString("\nCODE CHANGES:\n```diff\n")
	b.WriteString(strings.TrimRight(req.Change.Diff, "\n"))
	b.WriteString("\n```\n")

	status := "FAIL"
	if req.Test.Passed {
		status = "PASS"
	}
	b.WriteString("\nTEST RESULTS:\n")
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "Output: %s\n", req.Test.Output)

	b.WriteString(`
Provide your review in the following format:

DECISION: [APPROVED or REJECTED]

REVIEW COMMENTS:
- [Comment]

SUGGESTIONS:
- [Optional improvement]

Base the decision on whether the changes meet the acceptance criteria, whether tests pass,
and whether the code is reasonably clean.`)
	return b.String()
}

func formatNotesPrompt(req NotesRequest) string {
	var b strings.Builder
	b.WriteString("Summarize this workflow run.\n\n")
	fmt.Fprintf(&b, "TICKET:\n%s\n\n", req.Task.Summary())
	fmt.Fprintf(&b, "DESIGN:\n%s\n\n", req.Design.Summary())
	fmt.Fprintf(&b, "CODING:\n%s\n\n", req.Change.Summary())
	fmt.Fprintf(&b, "TESTS:\n%s\n\n", req.Test.Summary())
	fmt.Fprintf(&b, "REVIEW:\n%s\n\n", req.Review.Summary())
	pr := "Not published"
	if req.Publish != nil {
		pr = req.Publish.Summary()
	}
	fmt.Fprintf(&b, "PR:\n%s\n\n", pr)

	b.WriteString("LOGS:\n")
	if len(req.Attempts) == 0 {
		b.WriteString("No logs recorded.\n")
	}
	for _, a := range req.Attempts {
		line := fmt.Sprintf("- %s #%d %s", a.Stage, a.Attempt, a.Outcome)
		if a.Kind != "" {
			line += fmt.Sprintf(" (%s)", a.Kind)
		}
		if a.PayloadSummary != "" {
			line += ": " + a.PayloadSummary
		}
		b.WriteString(line + "\n")
	}

	b.WriteString(`
Provide your response in the following format:

SUMMARY:
- [2-4 bullet points describing what happened]

LESSONS:
- [lesson]

SUGGESTIONS:
- [suggestion]

TAGS:
- tag`)
	return b.String()
}

func writeTicket(b *strings.Builder, task models.TaskDetails, withDescription bool) {
	b.WriteString("TICKET INFORMATION:\n")
	fmt.Fprintf(b, "Ticket ID: %s\n", task.ID)
	fmt.Fprintf(b, "Title: %s\n", task.Title)
	if withDescription {
		fmt.Fprintf(b, "Description: %s\n", task.Description)
	}
	fmt.Fprintf(b, "Acceptance Criteria:\n%s\n", task.CriteriaText())
}

// formatCodeContext renders files as labeled blocks in path order.
func formatCodeContext(files map[string]string) string {
	if len(files) == 0 {
		return "No code context provided."
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	blocks := make([]string, 0, len(paths))
	for _, p := range paths {
		blocks = append(blocks, fmt.Sprintf("# File: %s\n%s", p, files[p]))
	}
	return strings.Join(blocks, "\n\n")
}

func bulleted(items []string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "- " + it
	}
	return strings.Join(lines, "\n")
}

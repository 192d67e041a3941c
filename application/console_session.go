package application

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"code-query-agent/domain"
)

// QuestionProvider supplies questions one at a time. ok is false once input
// is exhausted.
type QuestionProvider interface {
	NextQuestion() (question string, ok bool)
}

// ConsoleQuestionProvider reads questions line by line, printing a prompt
// before each read.
type ConsoleQuestionProvider struct {
	scanner *bufio.Scanner
	prompt  io.Writer
}

// NewConsoleQuestionProvider creates a provider reading from in and
// prompting on prompt.
func NewConsoleQuestionProvider(in io.Reader, prompt io.Writer) *ConsoleQuestionProvider {
	return &ConsoleQuestionProvider{
		scanner: bufio.NewScanner(in),
		prompt:  prompt,
	}
}

// NextQuestion reads a question from the console.
func (p *ConsoleQuestionProvider) NextQuestion() (string, bool) {
	fmt.Fprint(p.prompt, "\x1b[95mYou\x1b[0m: ")
	if !p.scanner.Scan() {
		return "", false
	}
	return p.scanner.Text(), true
}

// AskSession answers questions about one repository until input runs out.
type AskSession struct {
	queries  *QueryService
	provider QuestionProvider
	out      io.Writer
	user     string
	repo     string
}

// NewAskSession creates a new AskSession bound to user/repo.
func NewAskSession(queries *QueryService, provider QuestionProvider, out io.Writer, user, repo string) *AskSession {
	return &AskSession{
		queries:  queries,
		provider: provider,
		out:      out,
		user:     user,
		repo:     repo,
	}
}

// Run loops over questions. Blank lines are ignored and per-question errors
// are printed without ending the session.
func (s *AskSession) Run(ctx context.Context) error {
	fmt.Fprintf(s.out, "Ask about %s/%s (ctrl-d to quit)\n", s.user, s.repo)
	return runQuestions(ctx, s.provider, s.out, s.answer)
}

func runQuestions(ctx context.Context, provider QuestionProvider, out io.Writer, handle func(context.Context, string) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		question, ok := provider.NextQuestion()
		if !ok {
			return nil
		}
		question = strings.TrimSpace(question)
		if question == "" {
			continue
		}
		if err := handle(ctx, question); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "\x1b[91mError\x1b[0m: %v\n", err)
		}
	}
}

func (s *AskSession) answer(ctx context.Context, question string) error {
	result, err := s.queries.Answer(ctx, s.user, s.repo, question)
	if errors.Is(err, domain.ErrComposerDisabled) {
		hits, qerr := s.queries.Query(ctx, s.user, s.repo, question)
		if qerr != nil {
			return qerr
		}
		s.printHits(hits)
		return nil
	}
	if err != nil {
		return err
	}

	for i, snippet := range result.RelevantSnippets {
		fmt.Fprintf(s.out, "\x1b[93m[%d]\x1b[0m %s\n%s\n\n", i+1, describeLocation(snippet.Metadata), snippet.Text)
	}
	fmt.Fprintf(s.out, "\x1b[96mAssistant\x1b[0m: %s\n", result.Answer)
	return nil
}

func (s *AskSession) printHits(hits domain.QueryResult) {
	if hits.Len() == 0 {
		fmt.Fprintln(s.out, "No matching code found.")
		return
	}
	for i := range hits.Documents {
		fmt.Fprintf(s.out, "\x1b[93m[%d]\x1b[0m %s (distance %.4f)\n%s\n\n",
			i+1, describeLocation(hits.Metadatas[i]), hits.Distances[i], previewText(hits.Documents[i]))
	}
}

// AgentSession chats with the code agent on a single thread, so follow-up
// questions see the earlier conversation.
type AgentSession struct {
	agent    *AgentService
	provider QuestionProvider
	out      io.Writer
	user     string
	repo     string
	threadID string
}

// NewAgentSession creates a new AgentSession on a fresh thread.
func NewAgentSession(agent *AgentService, provider QuestionProvider, out io.Writer, user, repo string) *AgentSession {
	return &AgentSession{
		agent:    agent,
		provider: provider,
		out:      out,
		user:     user,
		repo:     repo,
		threadID: uuid.NewString(),
	}
}

// Run loops over questions until input runs out.
func (s *AgentSession) Run(ctx context.Context) error {
	if !s.agent.Enabled() {
		return domain.ErrAgentDisabled
	}
	fmt.Fprintf(s.out, "Chat with the code agent about %s/%s (ctrl-d to quit)\n", s.user, s.repo)
	return runQuestions(ctx, s.provider, s.out, s.chat)
}

func (s *AgentSession) chat(ctx context.Context, message string) error {
	reply, err := s.agent.Chat(ctx, s.threadID, s.user, s.repo, message)
	if err != nil {
		return err
	}
	if len(reply.ToolCalls) > 0 {
		fmt.Fprintf(s.out, "\x1b[93mtools\x1b[0m: %s\n", strings.Join(reply.ToolCalls, ", "))
	}
	fmt.Fprintf(s.out, "\x1b[96mClaude\x1b[0m: %s\n", reply.Response)
	return nil
}

// describeLocation renders "path:start-end" from stored metadata.
func describeLocation(metadata map[string]interface{}) string {
	path, _ := metadata["filePath"].(string)
	if path == "" {
		path = "<unknown>"
	}
	return fmt.Sprintf("%s:%v-%v", path, metadata["startLine"], metadata["endLine"])
}

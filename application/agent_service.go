package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.opentelemetry.io/otel/attribute"

	"code-query-agent/domain"
)

// DefaultMaxThreads bounds the conversations kept in memory.
const DefaultMaxThreads = 1000

// AgentSystemPrompt steers the code agent towards its search tools.
const AgentSystemPrompt = `You are an expert code analysis assistant that helps developers understand indexed code repositories.

When asked about functionality, implementation patterns or how to accomplish a task:
1. Search the repository with the available tools before answering.
2. Read the returned snippets in context and cite file paths and line ranges.
3. Combine related snippets into one explanation.
4. Say plainly when the search finds nothing relevant.

Format code in fenced blocks and explain its purpose and usage.`

// AgentReply is the outcome of one Chat call.
type AgentReply struct {
	Response   string    `json:"response"`
	Repository string    `json:"repository,omitempty"`
	ThreadID   string    `json:"threadId"`
	ToolCalls  []string  `json:"toolCalls"`
	Timestamp  time.Time `json:"timestamp"`
}

// AgentService runs the code agent and remembers each thread's conversation.
type AgentService struct {
	agent      *domain.Agent
	maxThreads int
	observer   StageObserver
	logger     *slog.Logger
	locks      *repoLocks

	mu      sync.Mutex
	threads map[string][]anthropic.MessageParam
	order   []string
}

// NewAgentService creates a new AgentService. A nil agent disables Chat.
func NewAgentService(agent *domain.Agent, maxThreads int, observer StageObserver, logger *slog.Logger) *AgentService {
	if maxThreads <= 0 {
		maxThreads = DefaultMaxThreads
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentService{
		agent:      agent,
		maxThreads: maxThreads,
		observer:   observer,
		logger:     logger,
		locks:      newRepoLocks(),
		threads:    make(map[string][]anthropic.MessageParam),
	}
}

// Enabled reports whether Chat can run.
func (s *AgentService) Enabled() bool {
	return s.agent != nil
}

// Chat sends message on threadID and returns the agent's reply. When user
// and repo are given the message is scoped to that repository. Calls on the
// same thread are serialised; a failed call leaves the thread unchanged.
func (s *AgentService) Chat(ctx context.Context, threadID, user, repo, message string) (AgentReply, error) {
	if !s.Enabled() {
		return AgentReply{}, domain.ErrAgentDisabled
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return AgentReply{}, domain.ErrMissingThread
	}
	if strings.TrimSpace(message) == "" {
		return AgentReply{}, domain.ErrMissingMessage
	}

	prompt := message
	var repository string
	if user != "" || repo != "" {
		if _, err := domain.RepoKey(user, repo); err != nil {
			return AgentReply{}, err
		}
		repository = user + "/" + repo
		prompt = fmt.Sprintf("In the repository %s: %s", repository, message)
	}

	ctx, span := tracer.Start(ctx, "agent.chat")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID), attribute.String("repository", repository))

	unlock := s.locks.Lock(threadID)
	defer unlock()

	conversation := append(s.history(threadID), anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))

	start := time.Now()
	turn, err := s.agent.Respond(ctx, conversation)
	s.observer.ObserveStage("agent", time.Since(start), err)
	if err != nil {
		return AgentReply{}, recordSpanError(span, err)
	}
	s.save(threadID, turn.Conversation)

	s.logger.Info("agent replied",
		slog.String("thread", threadID),
		slog.String("repository", repository),
		slog.Any("tools", turn.ToolCalls),
		slog.Duration("duration", time.Since(start)))

	toolCalls := turn.ToolCalls
	if toolCalls == nil {
		toolCalls = []string{}
	}
	return AgentReply{
		Response:   turn.Reply,
		Repository: repository,
		ThreadID:   threadID,
		ToolCalls:  toolCalls,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// history returns a copy of the thread's conversation.
func (s *AgentService) history(threadID string) []anthropic.MessageParam {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]anthropic.MessageParam(nil), s.threads[threadID]...)
}

// save stores the conversation, evicting the oldest thread when full.
func (s *AgentService) save(threadID string, conversation []anthropic.MessageParam) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		for len(s.order) >= s.maxThreads {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.threads, oldest)
			s.logger.Debug("evicted agent thread", slog.String("thread", oldest))
		}
		s.order = append(s.order, threadID)
	}
	s.threads[threadID] = conversation
}

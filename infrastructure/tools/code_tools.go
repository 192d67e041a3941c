// Package tools provides the code search tools the agent can call.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"code-query-agent/domain"
	"code-query-agent/infrastructure/schema"
)

const (
	defaultSearchLimit   = 10
	defaultMinRelevance  = 0.5
	analysisSnippetCount = 3
)

// Searcher runs a similarity search over one repository's collection.
type Searcher interface {
	Search(ctx context.Context, user, repo, text string, limit int) (domain.QueryResult, error)
}

// CodeToolRepository holds the tool definitions backed by a Searcher.
type CodeToolRepository struct {
	tools  []domain.ToolDefinition
	logger *slog.Logger
}

// Compile-time check that CodeToolRepository implements domain.ToolRepository.
var _ domain.ToolRepository = (*CodeToolRepository)(nil)

// NewCodeToolRepository creates a repository with the code_search,
// multi_repo_search and analyze_code tools.
func NewCodeToolRepository(searcher Searcher, logger *slog.Logger) *CodeToolRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &CodeToolRepository{
		tools: []domain.ToolDefinition{
			CodeSearchDefinition(searcher),
			MultiRepoSearchDefinition(searcher),
			AnalyzeCodeDefinition(searcher),
		},
		logger: logger,
	}
}

// GetAllTools returns every tool in the repository.
func (r *CodeToolRepository) GetAllTools() []domain.ToolDefinition {
	return r.tools
}

// FindToolByName searches for a tool by its name in the repository.
func (r *CodeToolRepository) FindToolByName(name string) (domain.ToolDefinition, bool) {
	for _, tool := range r.tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return domain.ToolDefinition{}, false
}

// ExecuteTool runs the named tool and wraps its output, or its error, in a
// tool_result block for id.
func (r *CodeToolRepository) ExecuteTool(ctx context.Context, id, name string, input json.RawMessage) anthropic.ContentBlockParamUnion {
	toolDef, found := r.FindToolByName(name)
	if !found {
		r.logger.Warn("unknown tool requested", slog.String("tool", name))
		return anthropic.NewToolResultBlock(id, "tool not found", true)
	}

	r.logger.Info("executing tool", slog.String("tool", name), slog.String("input", string(input)))
	response, err := toolDef.Function(ctx, input)
	if err != nil {
		r.logger.Warn("tool failed", slog.String("tool", name), slog.String("error", err.Error()))
		return anthropic.NewToolResultBlock(id, err.Error(), true)
	}
	return anthropic.NewToolResultBlock(id, response, false)
}

// CodeSearchInput defines the input parameters for the code_search tool.
type CodeSearchInput struct {
	Owner        string  `json:"owner" jsonschema_description:"Repository owner or organisation name."`
	Repo         string  `json:"repo" jsonschema_description:"Repository name."`
	Query        string  `json:"query" jsonschema_description:"Natural-language description of the code to find."`
	Limit        int     `json:"limit,omitempty" jsonschema_description:"Maximum number of results to return (1-50, default 10)."`
	MinRelevance float64 `json:"min_relevance,omitempty" jsonschema_description:"Minimum relevance score from 0 to 2 (default 0.5)."`
}

// MultiRepoSearchInput defines the input parameters for the multi_repo_search tool.
type MultiRepoSearchInput struct {
	Repositories []string `json:"repositories" jsonschema_description:"Repositories to search, each as owner/repo."`
	Query        string   `json:"query" jsonschema_description:"Natural-language description of the code to find."`
}

// AnalyzeCodeInput defines the input parameters for the analyze_code tool.
type AnalyzeCodeInput struct {
	Owner        string `json:"owner" jsonschema_description:"Repository owner or organisation name."`
	Repo         string `json:"repo" jsonschema_description:"Repository name."`
	Query        string `json:"query" jsonschema_description:"What to analyse."`
	AnalysisType string `json:"analysis_type" jsonschema:"enum=pattern,enum=function,enum=implementation,enum=usage" jsonschema_description:"Kind of analysis to perform."`
}

// CodeSearchDefinition returns the code_search tool.
func CodeSearchDefinition(searcher Searcher) domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "code_search",
		Description: "Search a repository's indexed code by meaning. Returns ranked snippets with file paths, line ranges and relevance scores. Use this first for any question about how a repository works.",
		InputSchema: schema.ToolInputSchema[CodeSearchInput](),
		Function: func(ctx context.Context, input json.RawMessage) (string, error) {
			return CodeSearch(ctx, searcher, input)
		},
	}
}

// MultiRepoSearchDefinition returns the multi_repo_search tool.
func MultiRepoSearchDefinition(searcher Searcher) domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "multi_repo_search",
		Description: "Search several repositories for the same thing and return the best match from each. Use this to compare implementations across repositories.",
		InputSchema: schema.ToolInputSchema[MultiRepoSearchInput](),
		Function: func(ctx context.Context, input json.RawMessage) (string, error) {
			return MultiRepoSearch(ctx, searcher, input)
		},
	}
}

// AnalyzeCodeDefinition returns the analyze_code tool.
func AnalyzeCodeDefinition(searcher Searcher) domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "analyze_code",
		Description: "Summarise the code matching a query: the top snippets, the kinds of code found and their line ranges.",
		InputSchema: schema.ToolInputSchema[AnalyzeCodeInput](),
		Function: func(ctx context.Context, input json.RawMessage) (string, error) {
			return AnalyzeCode(ctx, searcher, input)
		},
	}
}

type searchHit struct {
	Code      string                 `json:"code"`
	Relevance float64                `json:"relevanceScore"`
	Distance  float64                `json:"distance"`
	LineRange string                 `json:"lineRange"`
	CodeType  string                 `json:"codeType"`
	Metadata  map[string]interface{} `json:"metadata"`
}

type searchStatistics struct {
	TotalMatches     int      `json:"totalMatches"`
	AverageRelevance float64  `json:"averageRelevance"`
	MaxRelevance     float64  `json:"maxRelevance"`
	CodeTypes        []string `json:"codeTypes"`
}

type codeSearchOutput struct {
	Query      string           `json:"query"`
	Repository string           `json:"repository"`
	Message    string           `json:"message,omitempty"`
	Results    []searchHit      `json:"results"`
	Statistics searchStatistics `json:"statistics"`
	Filtered   bool             `json:"filtered"`
}

// CodeSearch runs code_search. Hits below the relevance threshold and
// repeated snippets are dropped; the rest are ordered by relevance.
func CodeSearch(ctx context.Context, searcher Searcher, input json.RawMessage) (string, error) {
	var in CodeSearchInput
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	if err := requireRepo(in.Owner, in.Repo, in.Query); err != nil {
		return "", err
	}
	if in.Limit <= 0 {
		in.Limit = defaultSearchLimit
	}
	if in.MinRelevance <= 0 {
		in.MinRelevance = defaultMinRelevance
	}

	result, err := searcher.Search(ctx, in.Owner, in.Repo, in.Query, in.Limit)
	if err != nil {
		return "", err
	}

	out := codeSearchOutput{
		Query:      in.Query,
		Repository: in.Owner + "/" + in.Repo,
		Results:    []searchHit{},
		Statistics: searchStatistics{CodeTypes: []string{}},
	}
	if result.Len() == 0 {
		out.Message = fmt.Sprintf("No code matches found for %q in %s", in.Query, out.Repository)
		return encode(out)
	}

	seen := map[string]bool{}
	for i := range result.Documents {
		hit := newSearchHit(result, i)
		if hit.Relevance < in.MinRelevance || seen[hit.Code] {
			continue
		}
		seen[hit.Code] = true
		out.Results = append(out.Results, hit)
	}
	sort.SliceStable(out.Results, func(i, j int) bool {
		return out.Results[i].Relevance > out.Results[j].Relevance
	})
	out.Filtered = len(out.Results) < result.Len()
	out.Statistics = statistics(out.Results)
	return encode(out)
}

type repoMatch struct {
	Repository string     `json:"repository"`
	Matches    int        `json:"matches"`
	BestMatch  *searchHit `json:"bestMatch,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type multiRepoOutput struct {
	Query             string      `json:"query"`
	Repositories      []repoMatch `json:"repositories"`
	TotalRepositories int         `json:"totalRepositories"`
}

// MultiRepoSearch runs multi_repo_search. A repository that cannot be
// searched is reported in its entry and does not fail the others.
func MultiRepoSearch(ctx context.Context, searcher Searcher, input json.RawMessage) (string, error) {
	var in MultiRepoSearchInput
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("query is required")
	}
	if len(in.Repositories) == 0 {
		return "", fmt.Errorf("at least one repository is required")
	}

	out := multiRepoOutput{
		Query:             in.Query,
		Repositories:      make([]repoMatch, 0, len(in.Repositories)),
		TotalRepositories: len(in.Repositories),
	}
	for _, name := range in.Repositories {
		entry := repoMatch{Repository: name}
		owner, repo, ok := strings.Cut(name, "/")
		if !ok || owner == "" || repo == "" {
			entry.Error = "repository must be written as owner/repo"
			out.Repositories = append(out.Repositories, entry)
			continue
		}

		result, err := searcher.Search(ctx, owner, repo, in.Query, 0)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			entry.Error = "failed to query: " + err.Error()
		case result.Len() == 0:
			entry.Error = "no matches found"
		default:
			best := newSearchHit(result, 0)
			entry.Matches = result.Len()
			entry.BestMatch = &best
		}
		out.Repositories = append(out.Repositories, entry)
	}
	return encode(out)
}

type analysisInsights struct {
	TotalMatches     int      `json:"totalMatches"`
	AverageRelevance float64  `json:"averageRelevance"`
	CodeTypes        []string `json:"codeTypes"`
	LineRanges       []string `json:"lineRanges"`
}

type analysisOutput struct {
	Query        string           `json:"query"`
	Repository   string           `json:"repository"`
	AnalysisType string           `json:"analysisType"`
	Error        string           `json:"error,omitempty"`
	CodeSnippets []searchHit      `json:"codeSnippets"`
	Insights     analysisInsights `json:"insights"`
}

var analysisTypes = map[string]bool{"pattern": true, "function": true, "implementation": true, "usage": true}

// AnalyzeCode runs analyze_code over the default number of neighbours and
// reports the top snippets with their types and line ranges.
func AnalyzeCode(ctx context.Context, searcher Searcher, input json.RawMessage) (string, error) {
	var in AnalyzeCodeInput
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	if err := requireRepo(in.Owner, in.Repo, in.Query); err != nil {
		return "", err
	}
	if !analysisTypes[in.AnalysisType] {
		return "", fmt.Errorf("analysis_type %q must be one of pattern, function, implementation, usage", in.AnalysisType)
	}

	result, err := searcher.Search(ctx, in.Owner, in.Repo, in.Query, 0)
	if err != nil {
		return "", err
	}

	out := analysisOutput{
		Query:        in.Query,
		Repository:   in.Owner + "/" + in.Repo,
		AnalysisType: in.AnalysisType,
		CodeSnippets: []searchHit{},
		Insights:     analysisInsights{CodeTypes: []string{}, LineRanges: []string{}},
	}
	if result.Len() == 0 {
		out.Error = fmt.Sprintf("No code found for analysis: %s", in.Query)
		return encode(out)
	}

	hits := make([]searchHit, result.Len())
	for i := range hits {
		hits[i] = newSearchHit(result, i)
	}
	stats := statistics(hits)
	top := hits[:min(analysisSnippetCount, len(hits))]

	out.CodeSnippets = top
	out.Insights = analysisInsights{
		TotalMatches:     len(hits),
		AverageRelevance: stats.AverageRelevance,
		CodeTypes:        stats.CodeTypes,
		LineRanges:       make([]string, len(top)),
	}
	for i, hit := range top {
		out.Insights.LineRanges[i] = hit.LineRange
	}
	return encode(out)
}

// newSearchHit builds the i-th hit. Relevance is 2 - distance, so an exact
// match scores 2 and an opposite vector 0.
func newSearchHit(result domain.QueryResult, i int) searchHit {
	metadata := result.Metadatas[i]
	hit := searchHit{
		Code:      strings.TrimSpace(result.Documents[i]),
		Distance:  round3(result.Distances[i]),
		Relevance: round3(math.Max(0, 2-result.Distances[i])),
		LineRange: "N/A",
		CodeType:  "unknown",
		Metadata:  metadata,
	}
	if t, ok := metadata["type"].(string); ok && t != "" {
		hit.CodeType = t
	}
	start, hasStart := metadata["startLine"]
	end, hasEnd := metadata["endLine"]
	if hasStart && hasEnd {
		hit.LineRange = fmt.Sprintf("%v-%v", start, end)
	}
	return hit
}

func statistics(hits []searchHit) searchStatistics {
	stats := searchStatistics{TotalMatches: len(hits), CodeTypes: []string{}}
	if len(hits) == 0 {
		return stats
	}
	types := map[string]bool{}
	var sum float64
	for _, h := range hits {
		sum += h.Relevance
		stats.MaxRelevance = math.Max(stats.MaxRelevance, h.Relevance)
		if !types[h.CodeType] {
			types[h.CodeType] = true
			stats.CodeTypes = append(stats.CodeTypes, h.CodeType)
		}
	}
	sort.Strings(stats.CodeTypes)
	stats.AverageRelevance = round3(sum / float64(len(hits)))
	return stats
}

func decodeInput(input json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid tool input: %w", err)
	}
	return nil
}

func requireRepo(owner, repo, query string) error {
	var errs []error
	if strings.TrimSpace(owner) == "" {
		errs = append(errs, errors.New("owner is required"))
	}
	if strings.TrimSpace(repo) == "" {
		errs = append(errs, errors.New("repo is required"))
	}
	if strings.TrimSpace(query) == "" {
		errs = append(errs, errors.New("query is required"))
	}
	return errors.Join(errs...)
}

func encode(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

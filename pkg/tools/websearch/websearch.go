// Package websearch implements the web_search tool served by the demo
// downstream server. Searches go through the Tavily API, one request per
// query, with a progress event per completed query.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	tavilygo "github.com/diverged/tavily-go"
	tavilyModels "github.com/diverged/tavily-go/models"

	"github.com/germanamz/nexus/pkg/progress"
	"github.com/germanamz/nexus/pkg/tools/toolbox"
)

// ToolName is the name the tool is registered and routed under.
const ToolName = "web_search"

const (
	defaultMaxResults        = 5
	defaultMaxCharsPerResult = 500
)

const inputSchema = `{
	"type": "object",
	"properties": {
		"objective": {
			"type": "string",
			"description": "High-level goal of the search"
		},
		"search_queries": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Specific search queries to run"
		},
		"max_results": {
			"type": "integer",
			"description": "Maximum number of results to return",
			"default": 5
		},
		"max_chars_per_result": {
			"type": "integer",
			"description": "Maximum characters per result excerpt",
			"default": 500
		}
	},
	"required": ["objective", "search_queries"]
}`

// Config holds the tool's Tavily settings.
type Config struct {
	APIKey     string
	BaseURL    string       // Optional override, mainly for tests.
	HTTPClient *http.Client // Optional; defaults to http.DefaultClient.
}

type searchInput struct {
	Objective         string   `json:"objective"`
	SearchQueries     []string `json:"search_queries"`
	MaxResults        int      `json:"max_results"`
	MaxCharsPerResult int      `json:"max_chars_per_result"`
}

type searchResult struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Excerpt string  `json:"excerpt"`
	Score   float64 `json:"score"`
}

type searchOutput struct {
	Objective     string         `json:"objective,omitempty"`
	SearchQueries []string       `json:"search_queries,omitempty"`
	Results       []searchResult `json:"results"`
	Total         int            `json:"total"`
	Error         string         `json:"error,omitempty"`
}

// Tool builds the web_search toolbox tool. Search failures are reported in
// the result payload rather than as handler errors, so a broken search
// still produces informative content for the caller.
func Tool(cfg Config) toolbox.Tool {
	return toolbox.Tool{
		Name:        ToolName,
		Description: "Search the web for information using multiple search queries to achieve an objective.",
		InputSchema: json.RawMessage(inputSchema),
		Handler: func(ctx context.Context, input json.RawMessage, report progress.Sink) (string, error) {
			return run(ctx, cfg, input, report)
		},
	}
}

func run(ctx context.Context, cfg Config, input json.RawMessage, report progress.Sink) (string, error) {
	var in searchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("websearch: unmarshal input: %w", err)
	}

	if in.MaxResults <= 0 {
		in.MaxResults = defaultMaxResults
	}
	if in.MaxCharsPerResult <= 0 {
		in.MaxCharsPerResult = defaultMaxCharsPerResult
	}

	if cfg.APIKey == "" {
		return render(searchOutput{Error: "TAVILY_API_KEY not configured", Results: []searchResult{}})
	}

	client := tavilygo.NewClient(cfg.APIKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}

	results := make([]searchResult, 0, in.MaxResults)

	total := len(in.SearchQueries)
	for i, query := range in.SearchQueries {
		report.Emit(ctx, float64(i)/float64(total), fmt.Sprintf("Searching: %s", query))

		resp, err := tavilygo.Search(client, tavilyModels.SearchRequest{
			Query:       query,
			SearchDepth: "basic",
			MaxResults:  in.MaxResults,
		})
		if err != nil {
			return render(searchOutput{Error: err.Error(), Results: results})
		}

		for _, r := range resp.Results {
			excerpt := r.Content
			if len(excerpt) > in.MaxCharsPerResult {
				excerpt = excerpt[:in.MaxCharsPerResult]
			}

			results = append(results, searchResult{
				URL:     r.URL,
				Title:   r.Title,
				Excerpt: excerpt,
				Score:   r.Score,
			})

			if len(results) >= in.MaxResults {
				break
			}
		}

		if len(results) >= in.MaxResults {
			break
		}
	}

	report.Emit(ctx, 1, "Search complete")

	return render(searchOutput{
		Objective:     in.Objective,
		SearchQueries: in.SearchQueries,
		Results:       results,
		Total:         len(results),
	})
}

func render(out searchOutput) (string, error) {
	payload, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("websearch: marshal output: %w", err)
	}

	return string(payload), nil
}

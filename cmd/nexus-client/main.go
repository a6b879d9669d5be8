// Command nexus-client is an interactive console client for the router. It
// connects over SSE, lists the router's tools, and runs queries through
// process_query with a live progress bar fed by MCP progress notifications.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/germanamz/nexus/pkg/downstream"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nexus-client [flags]\n\nInteractive client for the nexus router.\n\nFlags:\n")
		flag.PrintDefaults()
	}

	url := flag.String("url", "http://localhost:8002/sse", "router SSE endpoint")
	flag.Parse()

	if err := run(*url); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("error: %v", err)))
		os.Exit(1)
	}
}

func run(url string) error {
	ctx := context.Background()

	bar := newProgressBar(os.Stdout)

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "nexus-client",
		Version: downstream.Version,
	}, &mcp.ClientOptions{
		ProgressNotificationHandler: bar.handleNotification,
	})

	fmt.Println(headerStyle.Render("Connecting to nexus router..."))

	session, err := client.Connect(ctx, &mcp.SSEClientTransport{Endpoint: url}, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	defer func() { _ = session.Close() }()

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}

	names := make([]string, 0, len(tools.Tools))
	for _, t := range tools.Tools {
		names = append(names, t.Name)
	}
	fmt.Println(toolStyle.Render(fmt.Sprintf("Connected. %d tools: %s", len(names), strings.Join(names, ", "))))

	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return fmt.Errorf("markdown renderer: %w", err)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("You (or 'quit' to exit): "))

		if !scanner.Scan() {
			fmt.Println()

			return scanner.Err()
		}

		query := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(query) {
		case "":
			continue
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")

			return nil
		}

		if err := processQuery(ctx, session, renderer, bar, query); err != nil {
			fmt.Println(errorStyle.Render(fmt.Sprintf("error: %v", err)))
		}
	}
}

func processQuery(ctx context.Context, session *mcp.ClientSession, renderer *glamour.TermRenderer, bar *progressBar, query string) error {
	token := "client-" + uuid.NewString()
	bar.begin(token)
	defer bar.finish()

	params := &mcp.CallToolParams{
		Name:      "process_query",
		Arguments: map[string]any{"query": query},
		Meta:      mcp.Meta{"progressToken": token},
	}

	result, err := session.CallTool(ctx, params)
	if err != nil {
		return fmt.Errorf("call process_query: %w", err)
	}

	text := resultText(result)
	if result.IsError {
		return fmt.Errorf("router: %s", text)
	}

	rendered, err := renderer.Render(text)
	if err != nil {
		// Fall back to the raw answer.
		fmt.Println(text)

		return nil
	}

	fmt.Print(rendered)

	return nil
}

func resultText(result *mcp.CallToolResult) string {
	var texts []string
	for _, item := range result.Content {
		if tc, ok := item.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	return strings.Join(texts, "\n")
}

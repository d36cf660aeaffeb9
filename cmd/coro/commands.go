package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"loopsync/backend/internal/assistant"
	"loopsync/backend/internal/dashboard"
	"loopsync/backend/internal/knowledge"
	"loopsync/backend/internal/models"
	"loopsync/backend/pkg/config"
	"loopsync/backend/pkg/di"
	"loopsync/backend/pkg/logger"
)

type globalFlags struct {
	server   string
	identity string
	timeout  time.Duration
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "coro",
		Short:         "Talk to the LoopSync dashboard assistant",
		Long:          `coro asks the assistant questions, inspects the knowledge base and the dashboard context it injects, and reads conversation analytics from a running server.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&g.server, "server", "", "Base URL of a running server; empty runs the pipeline in-process")
	root.PersistentFlags().StringVar(&g.identity, "user", "cli", "Identity used for rate limiting and history")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 60*time.Second, "Request timeout")

	root.AddCommand(
		newAskCmd(g),
		newKnowledgeCmd(),
		newContextCmd(),
		newAnalyticsCmd(g),
		newHistoryCmd(g),
	)
	return root
}

func newAskCmd(g *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the assistant a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			req := assistant.ChatRequest{Messages: []models.ChatMessage{{
				Role:    models.RoleUser,
				Content: strings.Join(args, " "),
			}}}

			var (
				resp assistant.ChatResponse
				err  error
			)
			if g.server != "" {
				err = newAPIClient(g.server, g.identity, g.timeout).do(ctx, "POST", "/api/coro", nil, req, &resp)
			} else {
				resp, err = askLocal(ctx, g.identity, req, cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			return printReply(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the raw response")
	return cmd
}

func askLocal(ctx context.Context, identity string, req assistant.ChatRequest, logOut io.Writer) (assistant.ChatResponse, error) {
	logConfig := logger.DefaultConfig()
	logConfig.Level = "warn"
	logConfig.JSON = false
	logConfig.Output = logOut

	cfg := config.Load()
	cfg.Observability.MetricsEnabled = false
	cfg.Observability.TracingEnabled = false

	container, err := di.New(ctx, cfg, logger.New(logConfig))
	if err != nil {
		return assistant.ChatResponse{}, err
	}
	defer func() { _ = container.Stop(context.Background()) }()

	return container.Assistant.Chat(ctx, identity, req)
}

func printReply(w io.Writer, resp assistant.ChatResponse) error {
	if _, err := fmt.Fprintln(w, resp.Message); err != nil {
		return err
	}
	m := resp.Metadata
	var tags []string
	switch {
	case m.Blocked:
		tags = append(tags, "blocked")
	case m.Error:
		tags = append(tags, "error")
	case m.Mock:
		tags = append(tags, "fallback")
	case m.Model != "":
		tags = append(tags, m.Model)
	}
	tags = append(tags, "confidence "+strconv.FormatFloat(m.Confidence, 'f', 1, 64))
	if m.ResponseTime > 0 {
		tags = append(tags, fmt.Sprintf("%dms", m.ResponseTime))
	}
	if _, err := fmt.Fprintf(w, "\n[%s]\n", strings.Join(tags, ", ")); err != nil {
		return err
	}
	if m.SensitiveWarning != "" {
		_, err := fmt.Fprintf(w, "Note: %s\n", m.SensitiveWarning)
		return err
	}
	return nil
}

func newKnowledgeCmd() *cobra.Command {
	var (
		limit int
		full  bool
	)
	cmd := &cobra.Command{
		Use:   "knowledge [query]",
		Short: "Search the knowledge base the assistant draws from",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := knowledge.DefaultCorpus()
			if err != nil {
				return err
			}
			r := knowledge.NewRetriever(docs, nil, logger.Nop())
			query := strings.Join(args, " ")
			out := cmd.OutOrStdout()

			if full {
				block := r.RelevantKnowledge(query)
				if block == "" {
					_, err := fmt.Fprintln(out, "No matching articles.")
					return err
				}
				_, err := fmt.Fprintln(out, block)
				return err
			}

			matches := r.Search(query, limit)
			if len(matches) == 0 {
				_, err := fmt.Fprintln(out, "No matching articles.")
				return err
			}
			for _, d := range matches {
				if _, err := fmt.Fprintf(out, "%s  %s (%s)\n", d.ID, d.Title, d.Category); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 3, "Maximum number of articles")
	cmd.Flags().BoolVar(&full, "full", false, "Print the block injected into the prompt")
	return cmd
}

func newContextCmd() *cobra.Command {
	var snapshotPath string
	cmd := &cobra.Command{
		Use:   "context [query]",
		Short: "Print the dashboard context injected for a query",
		Long:  `Without a query the full dashboard summary is printed; with one, the intent-specific report the assistant would receive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var src dashboard.Source
			if snapshotPath != "" {
				data, err := os.ReadFile(snapshotPath)
				if err != nil {
					return err
				}
				snap, err := dashboard.LoadSnapshot(data)
				if err != nil {
					return err
				}
				src = dashboard.NewStaticSource(snap)
			} else {
				s, err := dashboard.DefaultSource()
				if err != nil {
					return err
				}
				src = s
			}

			inj := dashboard.NewInjector(src)
			text := inj.DashboardContext()
			if len(args) > 0 {
				text = inj.ContextForQuery(strings.Join(args, " "))
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "YAML dashboard snapshot; defaults to the built-in one")
	return cmd
}

func newAnalyticsCmd(g *globalFlags) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Print conversation analytics from a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.server == "" {
				return fmt.Errorf("analytics needs --server")
			}
			q := url.Values{}
			if from != "" {
				q.Set("from", from)
			}
			if to != "" {
				q.Set("to", to)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			var metrics models.AnalyticsMetrics
			if err := newAPIClient(g.server, g.identity, g.timeout).do(ctx, "GET", "/api/analytics", q, nil, &metrics); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), metrics)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Start of the range (RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "End of the range (RFC 3339)")
	return cmd
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the recent messages of --user from a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.server == "" {
				return fmt.Errorf("history needs --server")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			var body struct {
				Messages []models.ChatMessage `json:"messages"`
			}
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			if err := newAPIClient(g.server, g.identity, g.timeout).do(ctx, "GET", "/api/coro/history", q, nil, &body); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range body.Messages {
				if _, err := fmt.Fprintf(out, "%s  %-9s %s\n", m.Timestamp.Format(time.RFC3339), m.Role, m.Content); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of messages")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

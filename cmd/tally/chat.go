// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tally-dev/tally/internal/agent"
	"github.com/tally-dev/tally/internal/mission"
	"github.com/tally-dev/tally/internal/server"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// maxObservationWidth bounds how much of a tool result the CLI echoes.
const maxObservationWidth = 240

var (
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	toolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Run an investigation",
		Long: "Send an investigation request to the tally server and print the agent's reasoning, " +
			"tool calls and answer as they stream. Use --mission to run a predefined investigation.",
		Example: `  tally chat "Was ACME billed correctly in 2024?"
  tally chat --mission acme-billing --from 2024-01-01 --to 2024-12-31`,
		RunE: runChat,
	}

	cmd.Flags().String("mission", "", "predefined investigation id (see `tally missions`)")
	cmd.Flags().String("plan", "", "plan id to scope the mission to")
	cmd.Flags().String("customer", "", "customer name to scope the mission to")
	cmd.Flags().String("from", "", "start of the date range (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "end of the date range (YYYY-MM-DD)")
	cmd.Flags().Bool("no-stream", false, "wait for the final answer instead of streaming")
	cmd.Flags().Bool("raw", false, "print fragments as JSON lines")

	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	req, err := chatRequestFromFlags(cmd, args)
	if err != nil {
		return err
	}

	client := newAPIClient(serverAddress())
	out := cmd.OutOrStdout()

	if noStream, _ := cmd.Flags().GetBool("no-stream"); noStream {
		var res server.ChatResult
		if err := client.postJSON(cmd.Context(), "/api/v1/chat", req, &res); err != nil {
			return err
		}
		return printChatResult(out, res)
	}

	if raw, _ := cmd.Flags().GetBool("raw"); raw {
		enc := json.NewEncoder(out)
		return client.streamChat(cmd.Context(), req, func(f agent.Fragment) error {
			return enc.Encode(f)
		})
	}

	r := &fragmentRenderer{w: out}
	if err := client.streamChat(cmd.Context(), req, r.render); err != nil {
		return err
	}
	return r.finish()
}

// chatRequestFromFlags builds the request body from positional text and
// mission flags.
func chatRequestFromFlags(cmd *cobra.Command, args []string) (server.ChatRequest, error) {
	req := server.ChatRequest{Message: strings.TrimSpace(strings.Join(args, " "))}

	id, _ := cmd.Flags().GetString("mission")
	plan, _ := cmd.Flags().GetString("plan")
	customer, _ := cmd.Flags().GetString("customer")
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")

	if id == "" {
		if plan != "" || customer != "" || from != "" || to != "" {
			return req, tallyerr.New(tallyerr.CodeCLIInputInvalid, "--plan, --customer, --from and --to require --mission")
		}
		if req.Message == "" {
			return req, tallyerr.New(tallyerr.CodeCLIInputInvalid, "a message or --mission is required")
		}
		return req, nil
	}

	req.Mission = &mission.Request{
		ID:           id,
		PlanID:       plan,
		CustomerName: customer,
		DateFrom:     from,
		DateTo:       to,
	}
	return req, nil
}

// fragmentRenderer prints a fragment stream for a terminal. Consecutive
// deltas of the same kind are joined on one line.
type fragmentRenderer struct {
	w        io.Writer
	lastKind string
	midLine  bool
	failed   string
}

func (r *fragmentRenderer) render(f agent.Fragment) error {
	switch f.Type {
	case agent.FragmentDone:
		r.endLine()
		return nil
	case agent.FragmentError:
		r.endLine()
		r.failed = f.Message
		_, err := fmt.Fprintln(r.w, errorStyle.Render("error: "+f.Message))
		return err
	}

	var err error
	switch agent.EventKind(f.Kind) {
	case agent.EventText:
		r.switchKind(f.Kind)
		_, err = fmt.Fprint(r.w, f.Content)
		r.midLine = true
	case agent.EventToolCall:
		r.endLine()
		_, err = fmt.Fprintf(r.w, "%s %s\n", toolStyle.Render("→ "+f.Tool), dimStyle.Render(f.Content))
	case agent.EventToolResult:
		r.endLine()
		_, err = fmt.Fprintln(r.w, dimStyle.Render("← "+truncate(f.Content, maxObservationWidth)))
	}
	r.lastKind = f.Kind
	return err
}

func (r *fragmentRenderer) switchKind(kind string) {
	if r.lastKind != kind {
		r.endLine()
	}
}

func (r *fragmentRenderer) endLine() {
	if r.midLine {
		_, _ = fmt.Fprintln(r.w)
		r.midLine = false
	}
}

// finish reports a run that ended with an error fragment as a failed command.
func (r *fragmentRenderer) finish() error {
	r.endLine()
	if r.failed != "" {
		return tallyerr.New(tallyerr.CodeCLIRequestFailure, "investigation failed: "+r.failed)
	}
	return nil
}

func printChatResult(w io.Writer, res server.ChatResult) error {
	for _, step := range res.Steps {
		if _, err := fmt.Fprintf(w, "%s %s\n", toolStyle.Render("→ "+step.Tool),
			dimStyle.Render(truncate(step.Observation, maxObservationWidth))); err != nil {
			return err
		}
	}
	if res.Answer != "" {
		if _, err := fmt.Fprintln(w, res.Answer); err != nil {
			return err
		}
	}
	status := successStyle.Render(string(res.Outcome))
	if res.Outcome != agent.OutcomeAnswered {
		status = errorStyle.Render(string(res.Outcome))
	}
	_, err := fmt.Fprintf(w, "%s after %d rounds (run %s)\n", status, res.Rounds, res.RunID)
	return err
}

// truncate shortens s to at most n runes on one line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

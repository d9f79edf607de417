package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/microsoft/renshu/internal/esim"
	"github.com/microsoft/renshu/internal/rag"
)

var (
	demoModel      string
	demoBaseURL    string
	demoAPIKey     string
	demoUser       string
	demoCatalog    string
	demoGuardrails bool
	demoJudgeModel string
	demoKBStore    string
	demoTurns      int
)

func newDemoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Chat with the eSIM customer-service agents",
		Long: `Start an interactive session with the eSIM agent team. A triage agent
routes each message to a plan-search, booking, or knowledge-base
specialist. Type "exit" or "quit" to end the session.`,
		Args: cobra.NoArgs,
		RunE: demoCommandE,
	}

	cmd.Flags().StringVar(&demoModel, "model", "gpt-4o-mini", "Model backing the agents")
	cmd.Flags().StringVar(&demoBaseURL, "base-url", "https://api.openai.com/v1", "OpenAI-compatible endpoint")
	cmd.Flags().StringVar(&demoAPIKey, "api-key", os.Getenv("OPENAI_API_KEY"), "API key for the endpoint")
	cmd.Flags().StringVar(&demoUser, "user", "u1001", "Account to act as (u1001, u1002, or u1003)")
	cmd.Flags().StringVar(&demoCatalog, "catalog", "", "Plan catalog YAML (default: built-in catalog)")
	cmd.Flags().BoolVar(&demoGuardrails, "guardrails", false, "Screen input and output with an LLM guardrail")
	cmd.Flags().StringVar(&demoJudgeModel, "judge-model", "gpt-4o-mini", "Model backing the guardrail checks")
	cmd.Flags().StringVar(&demoKBStore, "kb-store", "", "Vector store ID for knowledge-base questions (see rag-prep)")
	cmd.Flags().IntVar(&demoTurns, "agent-turns", 0, "Override the per-agent tool-call budget")

	return cmd
}

func demoCommandE(cmd *cobra.Command, _ []string) error {
	catalog := esim.DefaultCatalog()
	if demoCatalog != "" {
		loaded, err := esim.LoadCatalog(demoCatalog)
		if err != nil {
			return err
		}
		catalog = loaded
	}
	users := esim.NewUserStore(esim.DefaultUsers()...)
	if _, ok := users.Get(demoUser); !ok {
		return fmt.Errorf("unknown user %q", demoUser)
	}

	opts := []esim.RunnerOption{}
	if demoKBStore != "" {
		opts = append(opts, esim.WithKnowledgeSearcher(rag.NewSearcher(demoBaseURL, demoAPIKey, demoKBStore)))
	}
	if demoGuardrails {
		opts = append(opts, esim.WithGuardrail(esim.NewGuardrail(demoBaseURL, demoAPIKey, demoJudgeModel)))
	}
	if demoTurns > 0 {
		opts = append(opts, esim.WithAgentTurns(demoTurns))
	}

	runner := esim.NewRunner(demoBaseURL, demoAPIKey, demoModel, catalog, users, demoUser, opts...)

	fmt.Println("eSIM customer service. Type \"exit\" to end the session.")
	fmt.Println()

	for {
		var message string
		input := huh.NewInput().
			Title("You").
			Placeholder("Where are you traveling?").
			Value(&message)
		if err := input.Run(); err != nil {
			return err
		}

		message = strings.TrimSpace(message)
		if message == "" {
			continue
		}
		if message == "exit" || message == "quit" {
			break
		}

		reply, err := runner.Reply(cmd.Context(), message)
		if err != nil {
			return err
		}
		fmt.Printf("\nAgent: %s\n\n", reply)
	}

	conv := runner.Conversation()
	if conv.Booking != nil {
		fmt.Printf("Booking confirmed: %s (%s, %s)\n",
			conv.Booking.ConfirmationID, conv.Booking.PlanName, conv.Booking.TotalDisplay)
	}
	return nil
}

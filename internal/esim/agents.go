package esim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/microsoft/renshu/internal/models"
	"github.com/microsoft/renshu/internal/rollout"
)

// AgentName identifies one of the demo agents.
type AgentName string

const (
	AgentTriage     AgentName = "triage"
	AgentPlanSearch AgentName = "plan_search"
	AgentBooking    AgentName = "booking"
	AgentRAG        AgentName = "rag"
)

// defaultAgentTurns bounds the tool-calling loop of one specialist agent.
const defaultAgentTurns = 6

// refusalMessage is returned when a guardrail blocks a message.
const refusalMessage = "I can only help with eSIM plans, bookings, and questions about how eSIM works."

const triageInstructions = `You are the triage agent for an eSIM customer service. Decide which specialist should handle the user's latest message.

Routes:
- "plan_search": the user mentions a country, a trip, travel dates, or wants to find or compare plans.
- "booking": the user wants to purchase or book a plan, or asks about payment or completing an order.
- "rag": the user asks a general question about eSIM technology, setup, compatibility, or troubleshooting.
- "clarify": the intent is genuinely unclear (e.g. "help me" with no other detail).

Be decisive: if you can reasonably guess the intent, route immediately instead of asking questions. Only choose "clarify" when the message gives you nothing to go on, and then put a short clarifying question in "reply" such as asking whether they want to buy a plan or learn how eSIM works. For every other route, leave "reply" empty.`

const planSearchInstructions = `You are the plan search agent for an eSIM service.

If the user's message names at least one country and a trip length or dates, do not ask questions: call ask_country_period to normalize the trip, then call plan_search to find plans. Only ask when a country or the duration is completely missing.

Present each plan option clearly: plan type (local, regional, or global), countries covered, duration in days, data allowance, and price. After presenting plans, ask whether the user wants to proceed with booking.`

const bookingInstructions = `You are the booking agent for an eSIM service.

When the user wants to buy and a plan price is known from the message or the conversation, proceed without asking redundant questions. Quantity defaults to 1.

Process: call status_check first. If the user is not logged in or has no payment method, tell them what to fix and stop. Otherwise call cost_calculator with the plan price, present the subtotal, tax, and total, then call book_esim to complete the purchase and give the user the confirmation ID. Be clear about all costs.`

const ragInstructions = `You are the knowledge agent for an eSIM service. Answer general questions about eSIM technology, setup, device compatibility, and troubleshooting.

For any clear question, call search_knowledge_base first and answer strictly from what it returns. If the search returns nothing relevant, say you do not know rather than guessing. For questions unrelated to eSIM, say you can only help with eSIM topics. For pricing or booking requests, tell the user you will hand them to the right specialist.`

var routeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"route": map[string]any{
			"type": "string",
			"enum": []any{string(AgentPlanSearch), string(AgentBooking), string(AgentRAG), "clarify"},
		},
		"reply": map[string]any{"type": "string"},
	},
	"required":             []any{"route", "reply"},
	"additionalProperties": false,
}

// KnowledgeSearcher retrieves knowledge-base passages for the RAG agent.
type KnowledgeSearcher interface {
	SearchKnowledgeBase(ctx context.Context, query string) (string, error)
}

// Conversation is the record of one demo session, consumed by the
// evaluation scorers.
type Conversation struct {
	UserID      string        `json:"user_id"`
	Turns       []models.Turn `json:"turns"`
	ToolCalls   []string      `json:"tool_calls"`
	Routes      []AgentName   `json:"routes"`
	FinalOutput string        `json:"final_output"`
	Booking     *Booking      `json:"booking,omitempty"`
}

// Runner drives a demo session: triage routes each user message to a
// specialist agent, which runs a tool-calling loop until it has a reply.
type Runner struct {
	client   openai.Client
	model    string
	catalog  *Catalog
	users    *UserStore
	kb       KnowledgeSearcher
	guard    *Guardrail
	maxTurns int
	logger   *slog.Logger

	conv    Conversation
	booking *BookESIMTool
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithKnowledgeSearcher enables the RAG agent.
func WithKnowledgeSearcher(kb KnowledgeSearcher) RunnerOption {
	return func(r *Runner) { r.kb = kb }
}

// WithGuardrail screens user input and agent output.
func WithGuardrail(g *Guardrail) RunnerOption {
	return func(r *Runner) { r.guard = g }
}

// WithAgentTurns bounds each specialist agent's tool-calling loop.
func WithAgentTurns(n int) RunnerOption {
	return func(r *Runner) { r.maxTurns = n }
}

// WithRunnerLogger overrides the runner's logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner builds a session runner for one account.
func NewRunner(baseURL, apiKey, model string, catalog *Catalog, users *UserStore, userID string, opts ...RunnerOption) *Runner {
	r := &Runner{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
		),
		model:    model,
		catalog:  catalog,
		users:    users,
		maxTurns: defaultAgentTurns,
		logger:   slog.Default(),
		conv:     Conversation{UserID: userID},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Conversation returns the session record so far.
func (r *Runner) Conversation() *Conversation {
	if r.booking != nil {
		r.conv.Booking = r.booking.Booking()
	}
	return &r.conv
}

// Reply handles one user message: guardrails screen it, triage picks a
// specialist, and the specialist's tool loop produces the reply.
func (r *Runner) Reply(ctx context.Context, message string) (string, error) {
	if r.guard != nil {
		verdict, err := r.guard.CheckInput(ctx, message)
		if err != nil {
			return "", fmt.Errorf("input guardrail: %w", err)
		}
		if !verdict.Allow {
			r.logger.Info("input blocked", "reasoning", verdict.Reasoning)
			return r.finish(refusalMessage), nil
		}
	}

	r.conv.Turns = append(r.conv.Turns, models.Turn{Role: models.RoleUser, Content: message})

	route, clarification, err := r.route(ctx)
	if err != nil {
		return "", err
	}
	r.conv.Routes = append(r.conv.Routes, route)
	r.logger.Debug("message routed", "route", route)

	var reply string
	switch route {
	case AgentPlanSearch, AgentBooking, AgentRAG:
		reply, err = r.runSpecialist(ctx, route)
		if err != nil {
			return "", err
		}
	default:
		reply = clarification
	}

	if r.guard != nil {
		verdict, err := r.guard.CheckOutput(ctx, message, reply)
		if err != nil {
			return "", fmt.Errorf("output guardrail: %w", err)
		}
		if !verdict.Allow {
			r.logger.Info("output blocked", "reasoning", verdict.Reasoning)
			reply = refusalMessage
		}
	}
	return r.finish(reply), nil
}

func (r *Runner) finish(reply string) string {
	r.conv.Turns = append(r.conv.Turns, models.Turn{Role: models.RoleAssistant, Content: reply})
	r.conv.FinalOutput = reply
	return reply
}

// route asks the triage agent for a routing decision over the whole
// conversation so far.
func (r *Runner) route(ctx context.Context) (AgentName, string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(triageInstructions)}
	messages = append(messages, historyParams(r.conv.Turns)...)

	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(r.model),
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "routing_decision",
					Schema: routeSchema,
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("triage completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", fmt.Errorf("triage completion: empty choices")
	}

	var decision struct {
		Route string `json:"route"`
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &decision); err != nil {
		// An unparseable decision falls back to asking the user.
		r.logger.Warn("unparseable routing decision", "error", err)
		return "clarify", "Are you looking to purchase an eSIM plan, or do you have questions about how eSIM works?", nil
	}

	if decision.Route == "clarify" && decision.Reply == "" {
		decision.Reply = "Are you looking to purchase an eSIM plan, or do you have questions about how eSIM works?"
	}
	return AgentName(decision.Route), decision.Reply, nil
}

// runSpecialist runs one specialist agent's tool-calling loop over the
// conversation.
func (r *Runner) runSpecialist(ctx context.Context, name AgentName) (string, error) {
	instructions, registry, err := r.specialist(name)
	if err != nil {
		return "", err
	}

	turns := append([]models.Turn{}, r.conv.Turns...)
	tools := toolParams(registry.Definitions())

	for turn := 0; turn < r.maxTurns; turn++ {
		messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(instructions)}
		messages = append(messages, historyParams(turns)...)

		resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(r.model),
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return "", fmt.Errorf("%s completion: %w", name, err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%s completion: empty choices", name)
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		assistant := models.Turn{Role: models.RoleAssistant, Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			assistant.ToolCalls = append(assistant.ToolCalls, models.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		turns = append(turns, assistant)

		for _, tc := range msg.ToolCalls {
			r.conv.ToolCalls = append(r.conv.ToolCalls, tc.Function.Name)

			result, err := registry.Invoke(ctx, tc.Function.Name, tc.Function.Arguments)
			if err != nil {
				if !errors.Is(err, rollout.ErrUnknownTool) {
					r.logger.Warn("tool call failed", "tool", tc.Function.Name, "error", err)
				}
				// Tool failures go back to the model so it can recover,
				// e.g. by prompting the user to log in.
				result = fmt.Sprintf("error: %v", err)
			}
			turns = append(turns, models.Turn{
				Role:       models.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}
	return "", fmt.Errorf("%s agent exceeded %d turns without replying", name, r.maxTurns)
}

func (r *Runner) specialist(name AgentName) (string, *rollout.Registry, error) {
	switch name {
	case AgentPlanSearch:
		registry, err := NewPlanSearchToolset(r.catalog)
		return planSearchInstructions, registry, err
	case AgentBooking:
		booking := &BookESIMTool{users: r.users, userID: r.conv.UserID}
		registry, err := rollout.NewRegistry(
			&StatusCheckTool{users: r.users, userID: r.conv.UserID},
			&CostCalculatorTool{},
			booking,
		)
		if err == nil {
			r.booking = booking
		}
		return bookingInstructions, registry, err
	case AgentRAG:
		if r.kb == nil {
			return "", nil, fmt.Errorf("knowledge base is not configured")
		}
		registry, err := rollout.NewRegistry(&knowledgeSearchTool{kb: r.kb})
		return ragInstructions, registry, err
	default:
		return "", nil, fmt.Errorf("unknown agent %q", name)
	}
}

// knowledgeSearchTool exposes the vector store to the RAG agent.
type knowledgeSearchTool struct {
	kb KnowledgeSearcher
}

func (t *knowledgeSearchTool) Name() string { return "search_knowledge_base" }

func (t *knowledgeSearchTool) Description() string {
	return "Search the eSIM knowledge base for relevant information."
}

func (t *knowledgeSearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "The question or topic to search for."},
		},
		"required":             []any{"query"},
		"additionalProperties": false,
	}
}

func (t *knowledgeSearchTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	return t.kb.SearchKnowledgeBase(ctx, query)
}

func historyParams(turns []models.Turn) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case models.RoleUser:
			out = append(out, openai.UserMessage(turn.Content))
		case models.RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if turn.Content != "" {
				assistant.Content.OfString = openai.String(turn.Content)
			}
			for _, tc := range turn.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case models.RoleTool:
			out = append(out, openai.ToolMessage(turn.Content, turn.ToolCallID))
		}
	}
	return out
}

func toolParams(defs []rollout.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  openai.FunctionParameters(d.Parameters),
			},
		})
	}
	return out
}

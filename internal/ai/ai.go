package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const (
	DefaultModel = "gemini-1.5-flash"
	sqlToolName  = "run_readonly_sql"
	maxRows      = 200
	maxToolCalls = 5
)

var (
	ErrNotReadOnly = errors.New("security violation: only SELECT queries are allowed")

	writeKeyword = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|REPLACE|GRANT|REVOKE|LOCK|CALL|SET|INTO\s+OUTFILE|LOAD_FILE)\b`)
)

// AIService holds the Gemini client and the read-only database connection.
type AIService struct {
	Client *genai.Client
	DB     *sqlx.DB
	Model  string
	Log    zerolog.Logger
}

// NewAIService initializes the Gemini client.
func NewAIService(ctx context.Context, apiKey, model string, dbReadOnly *sqlx.DB, log zerolog.Logger) (*AIService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &AIService{Client: client, DB: dbReadOnly, Model: model, Log: log.With().Str("component", "ai").Logger()}, nil
}

// Close releases the Gemini client.
func (s *AIService) Close() error {
	return s.Client.Close()
}

// GenerateResponse answers an admin's question, letting the model run
// read-only SQL against the store. It returns the answer and tokens used.
func (s *AIService) GenerateResponse(ctx context.Context, userMessage, userRole string) (string, int, error) {
	model := s.Client.GenerativeModel(s.Model)

	// 1. Declare the SQL tool.
	model.Tools = []*genai.Tool{{
		FunctionDeclarations: []*genai.FunctionDeclaration{{
			Name:        sqlToolName,
			Description: "Executes a READ-ONLY SQL query (SELECT only) to answer questions.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"query": {
						Type:        genai.TypeString,
						Description: "The MySQL SELECT query to execute.",
					},
				},
				Required: []string{"query"},
			},
		}},
	}}

	// 2. System instructions.
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(fmt.Sprintf(`
			You are the Zyra marketplace assistant. Role: %s.
			Access: MySQL database (%s).
			Schema: %s
			Rules: SELECT only. Be concise. Amounts are in INR.
		`, userRole, sqlToolName, SchemaDefinition))},
	}

	// 3. Chat, answering tool calls until the model replies with text.
	cs := model.StartChat()
	res, err := cs.SendMessage(ctx, genai.Text(userMessage))
	if err != nil {
		return "", 0, fmt.Errorf("error sending message: %w", err)
	}

	for calls := 0; ; calls++ {
		tokens := 0
		if res.UsageMetadata != nil {
			tokens = int(res.UsageMetadata.TotalTokenCount)
		}
		if len(res.Candidates) == 0 || res.Candidates[0].Content == nil || len(res.Candidates[0].Content.Parts) == 0 {
			return "No response.", tokens, nil
		}

		part := res.Candidates[0].Content.Parts[0]
		funcCall, ok := part.(genai.FunctionCall)
		if !ok {
			return fmt.Sprintf("%v", part), tokens, nil
		}
		if funcCall.Name != sqlToolName {
			return "", tokens, fmt.Errorf("unknown function: %s", funcCall.Name)
		}
		if calls >= maxToolCalls {
			return "", tokens, fmt.Errorf("too many tool calls")
		}

		query, _ := funcCall.Args["query"].(string)
		s.Log.Info().Str("query", query).Msg("assistant running sql")

		result, sqlErr := s.RunReadOnlyQuery(ctx, query)
		if sqlErr != nil {
			result = fmt.Sprintf("SQL Error: %v", sqlErr)
		}

		res, err = cs.SendMessage(ctx, genai.FunctionResponse{
			Name:     sqlToolName,
			Response: map[string]any{"result": result},
		})
		if err != nil {
			return "", tokens, fmt.Errorf("tool response error: %w", err)
		}
	}
}

// CheckReadOnly rejects anything but a single SELECT/WITH/SHOW/DESCRIBE.
func CheckReadOnly(query string) error {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	if q == "" || strings.Contains(q, ";") {
		return ErrNotReadOnly
	}
	first := strings.ToUpper(strings.Fields(q)[0])
	switch first {
	case "SELECT", "WITH", "SHOW", "DESCRIBE", "EXPLAIN":
	default:
		return ErrNotReadOnly
	}
	if writeKeyword.MatchString(q) {
		return ErrNotReadOnly
	}
	return nil
}

// RunReadOnlyQuery executes query and returns at most maxRows rows as JSON.
func (s *AIService) RunReadOnlyQuery(ctx context.Context, query string) (string, error) {
	if err := CheckReadOnly(query); err != nil {
		return "", err
	}

	rows, err := s.DB.QueryxContext(ctx, strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if err != nil {
		return "", err
	}
	defer rows.Close()

	table := []map[string]any{}
	for rows.Next() && len(table) < maxRows {
		entry := map[string]any{}
		if err := rows.MapScan(entry); err != nil {
			return "", err
		}
		for k, v := range entry {
			if b, ok := v.([]byte); ok {
				entry[k] = string(b)
			}
		}
		table = append(table, entry)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	out, err := json.Marshal(table)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// SchemaDefinition is the table summary given to the model.
const SchemaDefinition = `
	- users (id, email, full_name, phone, created_at)
	- user_roles (user_id, role [customer, shop_owner, admin])
	- addresses (id, user_id, full_name, city, state, postal_code, latitude, longitude, is_default)
	- categories (id, name, slug)
	- shops (id, owner_id, name, slug, address, latitude, longitude, rating, is_active, created_at)
	- shop_followers (shop_id, user_id, created_at)
	- products (id, shop_id, category_id, name, price, stock, is_active, created_at)
	- cart_items (id, user_id, product_id, quantity, size, color)
	- orders (id, order_number, user_id, shop_id, customer_name, payment_method [cod, upi], total_amount, status [pending, packed, shipped, delivered, cancelled], checkout_ref, created_at)
	- order_items (id, order_id, product_id, quantity, price, size, color)
	- notifications (id, user_id, message, is_read, created_at)
	`

// Package telegram serves a chat front-end over the dashboard's data. Free text is
// turned into one of a closed set of actions by a model and executed through the
// same services the HTTP API uses.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/opsboard/opsboard-api/internal/llm"
	"go.uber.org/zap"
)

// Action is one of the operations the chat front-end can run
type Action string

const (
	ActionListClients   Action = "list_clients"
	ActionListBillables Action = "list_billables"
	ActionQuoteStatus   Action = "quote_status"
	ActionInvoiceStatus Action = "invoice_status"
	ActionAddExpense    Action = "add_expense"
	ActionAddTask       Action = "add_task"
	ActionUnknown       Action = "unknown"
)

var knownActions = map[Action]bool{
	ActionListClients:   true,
	ActionListBillables: true,
	ActionQuoteStatus:   true,
	ActionInvoiceStatus: true,
	ActionAddExpense:    true,
	ActionAddTask:       true,
}

// Intent is a parsed chat message
type Intent struct {
	Action Action
	Params map[string]string
}

// Param returns a trimmed parameter value
func (i *Intent) Param(name string) string {
	return strings.TrimSpace(i.Params[name])
}

// Parser turns a chat message into an intent
type Parser interface {
	Parse(ctx context.Context, text string) (*Intent, error)
}

const intentSystemPrompt = `You route chat messages for a small business dashboard.
Answer with one JSON object: {"action": "...", "params": {...}}.
Actions and their params:
- list_clients: query (optional name filter)
- list_billables: client
- quote_status: client
- invoice_status: client
- add_expense: client, amount, description, vendor (optional), category (optional), project (optional)
- add_task: project, title, client (optional)
Use "unknown" when the message fits none of them. All param values are strings.`

// LLMParser classifies messages with a chat completion in JSON mode
type LLMParser struct {
	completer llm.Completer
	logger    *zap.Logger
}

func NewLLMParser(completer llm.Completer, logger *zap.Logger) *LLMParser {
	return &LLMParser{completer: completer, logger: logger}
}

func (p *LLMParser) Parse(ctx context.Context, text string) (*Intent, error) {
	raw, err := p.completer.Complete(ctx, llm.Prompt{
		System: intentSystemPrompt,
		User:   text,
		JSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("intent completion: %w", err)
	}
	intent, err := ParseIntent(raw)
	if err != nil {
		p.logger.Warn("unparseable intent", zap.String("raw", raw), zap.Error(err))
		return nil, err
	}
	return intent, nil
}

// ParseIntent decodes a model answer. Actions outside the closed set become ActionUnknown
// and non-string parameter values are converted to their text form.
func ParseIntent(raw string) (*Intent, error) {
	var decoded struct {
		Action string                 `json:"action"`
		Params map[string]interface{} `json:"params"`
	}
	if err := json.Unmarshal([]byte(llm.StripCodeFence(raw)), &decoded); err != nil {
		return nil, fmt.Errorf("intent is not a JSON object: %w", err)
	}
	if decoded.Action == "" {
		return nil, errors.New("intent has no action")
	}

	intent := &Intent{
		Action: Action(strings.ToLower(strings.TrimSpace(decoded.Action))),
		Params: make(map[string]string, len(decoded.Params)),
	}
	if !knownActions[intent.Action] {
		intent.Action = ActionUnknown
	}
	for k, v := range decoded.Params {
		switch val := v.(type) {
		case nil:
		case string:
			intent.Params[k] = val
		case float64:
			intent.Params[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			intent.Params[k] = strconv.FormatBool(val)
		default:
			b, _ := json.Marshal(val)
			intent.Params[k] = string(b)
		}
	}
	return intent, nil
}

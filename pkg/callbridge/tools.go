package callbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aldar-voice/callbridge/pkg/livesession"
)

const toolCallTimeout = 10 * time.Second

// ToolHandler executes one declared tool call against an HTTP backend and
// returns its JSON-shaped result. A handler may return an HTTP/network
// error; Dispatch converts any such error into the {"error": ...}
// response shape spec.md §4.6 requires, so it never reaches the session.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

type toolDef struct {
	schema  livesession.ToolSchema
	handler ToolHandler
}

// Dispatcher is the Tool Dispatcher (C6): a table mapping declared tool
// name to (schema, handler), so the LLM's tool configuration and the
// dispatch logic are derived from the same source (spec.md §9's
// re-architecture guidance). transfer_to_human_operator is intentionally
// absent from this table: it is a side-effect-only tool handled directly
// by the session loop, not routed through an HTTP backend.
type Dispatcher struct {
	baseURL    string
	httpClient *http.Client
	tools      map[string]toolDef
	logger     Logger
}

// NewDispatcher builds a dispatcher issuing GET requests against baseURL
// for every declared tool.
func NewDispatcher(baseURL string, logger Logger) *Dispatcher {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	d := &Dispatcher{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: toolCallTimeout},
		tools:      make(map[string]toolDef),
		logger:     logger,
	}

	d.register(livesession.ToolSchema{
		Name:        "get_exchange_rate",
		Description: "Look up the current exchange rate for a given rate type.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"rate_type": map[string]interface{}{"type": "integer"},
			},
			"required": []string{"rate_type"},
		},
	}, d.getExchangeRate)

	d.register(livesession.ToolSchema{
		Name:        "get_branch_details",
		Description: "List all branch locations and their details.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}, d.getBranchDetails)

	d.register(livesession.ToolSchema{
		Name:        "calculate_exchange",
		Description: "Calculate a currency exchange amount.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"transaction_type": map[string]interface{}{"type": "string", "enum": []string{"tt", "BUY", "SELL"}},
				"currency_code":    map[string]interface{}{"type": "string"},
				"local_amount":     map[string]interface{}{"type": "number"},
				"foreign_amount":   map[string]interface{}{"type": "number"},
			},
			"required": []string{"transaction_type", "currency_code", "local_amount", "foreign_amount"},
		},
	}, d.calculateExchange)

	d.register(livesession.ToolSchema{
		Name:        "get_transaction_status",
		Description: "Look up the status of a previous exchange transaction by reference number.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"transaction_ref_no": map[string]interface{}{"type": "string"},
			},
			"required": []string{"transaction_ref_no"},
		},
	}, d.getTransactionStatus)

	return d
}

func (d *Dispatcher) register(schema livesession.ToolSchema, handler ToolHandler) {
	d.tools[schema.Name] = toolDef{schema: schema, handler: handler}
}

// Schemas returns the declared tool set, in a form that can be handed to a
// LiveSession constructor to build the LLM's tool configuration.
func (d *Dispatcher) Schemas() []livesession.ToolSchema {
	out := make([]livesession.ToolSchema, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, t.schema)
	}
	return out
}

// Dispatch executes one tool call with a bounded timeout. HTTP-layer
// failures are surfaced as an {"error": ...} response rather than
// returned as a Go error, so the session loop never has to special-case a
// failed tool call.
func (d *Dispatcher) Dispatch(ctx context.Context, call livesession.ToolCall) livesession.ToolResult {
	def, ok := d.tools[call.Name]
	if !ok {
		return errorResult(call, fmt.Sprintf("unknown tool %q", call.Name))
	}

	ctx, cancel := context.WithTimeout(ctx, toolCallTimeout)
	defer cancel()

	resp, err := def.handler(ctx, call.Args)
	if err != nil {
		d.logger.Warn("tool call failed", "tool", call.Name, "error", err)
		return errorResult(call, err.Error())
	}
	return livesession.ToolResult{ID: call.ID, Name: call.Name, Response: resp}
}

func errorResult(call livesession.ToolCall, message string) livesession.ToolResult {
	return livesession.ToolResult{
		ID:       call.ID,
		Name:     call.Name,
		Response: map[string]interface{}{"error": message},
	}
}

func (d *Dispatcher) getExchangeRate(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	rateType, ok := args["rate_type"]
	if !ok {
		return nil, fmt.Errorf("rate_type is required")
	}
	q := url.Values{}
	q.Set("type", fmt.Sprintf("%v", rateType))
	u := fmt.Sprintf("%s/api/User/GetRate?%s", d.baseURL, q.Encode())
	return d.getJSON(ctx, u)
}

func (d *Dispatcher) getBranchDetails(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	u := fmt.Sprintf("%s/api/User/GetBranchesDetails", d.baseURL)

	var branches []interface{}
	if err := d.getInto(ctx, u, &branches); err != nil {
		return nil, err
	}

	// The backend returns a bare list, but the LLM protocol requires an
	// object response (spec.md §9).
	return map[string]interface{}{
		"branches":    branches,
		"total_count": len(branches),
	}, nil
}

func (d *Dispatcher) calculateExchange(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	transactionType, _ := args["transaction_type"].(string)
	currencyCode, _ := args["currency_code"].(string)
	if transactionType == "" || currencyCode == "" {
		return nil, fmt.Errorf("transaction_type and currency_code are required")
	}

	q := url.Values{}
	q.Set("type", transactionType)
	q.Set("curcode", currencyCode)
	if v, ok := args["local_amount"]; ok {
		q.Set("lcyamount", fmt.Sprintf("%v", v))
	}
	if v, ok := args["foreign_amount"]; ok {
		q.Set("fcyamount", fmt.Sprintf("%v", v))
	}

	u := fmt.Sprintf("%s/api/User/GetRate?%s", d.baseURL, q.Encode())
	return d.getJSON(ctx, u)
}

func (d *Dispatcher) getTransactionStatus(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	ref, ok := args["transaction_ref_no"].(string)
	if !ok || ref == "" {
		return nil, fmt.Errorf("transaction_ref_no is required")
	}
	u := fmt.Sprintf("%s/api/User/GetTransactionDetails?tranRefNo=%s", d.baseURL, url.QueryEscape(ref))
	return d.getJSON(ctx, u)
}

func (d *Dispatcher) getJSON(ctx context.Context, u string) (map[string]interface{}, error) {
	var result map[string]interface{}
	if err := d.getInto(ctx, u, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) getInto(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tool backend returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

package negotiate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dealgraph/dealgraph/flow"
	"github.com/dealgraph/dealgraph/flow/model"
	"github.com/dealgraph/dealgraph/flow/tool"
)

// Step names.
const (
	StepReceiveInput     = "receive_input"
	StepClassifyIntent   = "classify_intent"
	StepExtractParams    = "extract_parameters"
	StepSupplierSourcing = "supplier_sourcing"
	StepGenerateQuote    = "generate_quote"
	StepDraftMessage     = "draft_negotiation_message"
	StepAwaitReply       = "await_supplier_reply"
	StepAnalyzeResponse  = "analyze_supplier_response"
	StepInitiateContract = "initiate_contract"
	StepClarify          = "provide_clarification"
	StepScheduleFollowUp = "schedule_follow_up"
	StepNotifyUser       = "notify_user_and_suggest_next_steps"
)

// Buyer intents produced by classify_intent.
const (
	IntentGetQuote     = "get_quote"
	IntentFindSupplier = "find_supplier"
	IntentNegotiate    = "negotiate"
	IntentRequestInfo  = "request_info"
	IntentOther        = "other"
)

// Supplier intents produced by analyze_supplier_response.
const (
	SupplierAccept        = "accept"
	SupplierCounteroffer  = "counteroffer"
	SupplierReject        = "reject"
	SupplierClarification = "clarification_request"
	SupplierDelay         = "delay"
)

// SupplierSearchTool is the registry name of the supplier directory lookup
// used by supplier_sourcing when available.
const SupplierSearchTool = "supplier_search"

// Workflow bundles the collaborators the negotiation steps depend on. Model
// is required; Tools and Now are optional.
type Workflow struct {
	// Model backs the LLM steps: intent classification, parameter
	// extraction, drafting, and supplier response analysis.
	Model model.ChatModel

	// Tools, when it has a supplier_search tool, backs supplier sourcing;
	// otherwise sourcing falls back to the model.
	Tools *tool.Registry

	// Now supplies timestamps for follow-up scheduling. Nil means time.Now.
	Now func() time.Time
}

func (w *Workflow) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// message builds a transcript entry.
func message(role, content string) map[string]any {
	return map[string]any{"role": role, "content": content}
}

// lastMessageFrom returns the newest transcript entry with the given role.
func lastMessageFrom(state flow.Values, role string) string {
	entries, _ := state[ChMessages].([]any)
	for i := len(entries) - 1; i >= 0; i-- {
		entry, ok := entries[i].(map[string]any)
		if !ok {
			continue
		}
		if entry["role"] == role {
			content, _ := entry["content"].(string)
			return content
		}
	}
	return ""
}

// chatJSON asks the model for a JSON object and parses it, tolerating
// markdown code fences around the payload.
func (w *Workflow) chatJSON(ctx context.Context, system, user string) (map[string]any, error) {
	out, err := w.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: system},
		{Role: model.RoleUser, Content: user},
	}, nil)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(out.Text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}
	return parsed, nil
}

func (w *Workflow) chatText(ctx context.Context, system, user string) (string, error) {
	out, err := w.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: system},
		{Role: model.RoleUser, Content: user},
	}, nil)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", errors.New("model returned empty text")
	}
	return text, nil
}

// receiveInput validates the inquiry and opens the transcript.
func (w *Workflow) receiveInput(ctx context.Context, in flow.Input) flow.Outcome {
	input := strings.TrimSpace(in.GetString(ChUserInput))
	if input == "" {
		return flow.Fail(errors.New("user_input is empty"))
	}
	return flow.Update(flow.Delta{
		ChMessages: []any{message("user", input)},
		ChStatus:   "received",
	})
}

const classifySystem = `You classify B2B textile procurement inquiries.
Intents: get_quote (pricing for specific products), find_supplier (locate
manufacturers), negotiate (discuss terms of existing offers), request_info
(general product/service questions), other (greetings, unclear).
Respond with JSON only: {"intent": "...", "confidence": 0.0-1.0, "reasoning": "..."}`

// classifyIntent labels the buyer's inquiry with one of the known intents.
func (w *Workflow) classifyIntent(ctx context.Context, in flow.Input) flow.Outcome {
	parsed, err := w.chatJSON(ctx, classifySystem, in.GetString(ChUserInput))
	if err != nil {
		return flow.Fail(fmt.Errorf("intent classification: %w", err))
	}

	intent, _ := parsed["intent"].(string)
	switch intent {
	case IntentGetQuote, IntentFindSupplier, IntentNegotiate, IntentRequestInfo:
	default:
		intent = IntentOther
	}
	confidence, _ := parsed["confidence"].(float64)

	return flow.Update(flow.Delta{
		ChIntent:           intent,
		ChIntentConfidence: confidence,
		ChStatus:           "intent_classified",
	})
}

const extractSystem = `You extract structured parameters from B2B textile
requests. Extract only what is stated or clearly implied; normalize
quantities to numbers and certifications to standard names (GOTS, OEKO-TEX,
BCI). Respond with JSON only, using keys among: fabric_type, quantity, unit,
quality_specs, certifications, delivery_location, deadline_days,
target_price, currency. Omit unknown keys.`

// extractParameters parses the inquiry into a structured request.
func (w *Workflow) extractParameters(ctx context.Context, in flow.Input) flow.Outcome {
	user := fmt.Sprintf("Intent: %s\n\nExtract parameters from this message:\n\n%s",
		in.GetString(ChIntent), in.GetString(ChUserInput))
	parsed, err := w.chatJSON(ctx, extractSystem, user)
	if err != nil {
		return flow.Fail(fmt.Errorf("parameter extraction: %w", err))
	}
	return flow.Update(flow.Delta{
		ChExtractedParameters: parsed,
		ChStatus:              "parameters_extracted",
	})
}

const sourcingSystem = `You are a textile supplier sourcing assistant. Given a
structured fabric request, propose candidate suppliers, best match first.
Respond with JSON only:
{"suppliers": [{"name": "...", "region": "...", "unit_price": 0.0, "lead_time_days": 0}]}`

// supplierSourcing finds candidate suppliers for the extracted request,
// through the supplier_search tool when registered, else through the model.
func (w *Workflow) supplierSourcing(ctx context.Context, in flow.Input) flow.Outcome {
	params, _ := in.Get(ChExtractedParameters)

	var result map[string]any
	var err error
	if w.Tools != nil {
		if _, ok := w.Tools.Get(SupplierSearchTool); ok {
			input, _ := params.(map[string]any)
			result, err = w.Tools.Call(ctx, SupplierSearchTool, input)
			if err != nil {
				return flow.Fail(fmt.Errorf("supplier search: %w", err))
			}
		}
	}
	if result == nil {
		req, _ := json.Marshal(params)
		result, err = w.chatJSON(ctx, sourcingSystem, string(req))
		if err != nil {
			return flow.Fail(fmt.Errorf("supplier sourcing: %w", err))
		}
	}

	suppliers, _ := result["suppliers"].([]any)
	if len(suppliers) == 0 {
		return flow.Fail(errors.New("supplier sourcing found no candidates"))
	}
	return flow.Update(flow.Delta{
		ChSuppliers: suppliers,
		ChStatus:    "suppliers_sourced",
	})
}

// generateQuote assembles a quote from the request and the top supplier. The
// numbers come straight from sourcing; pricing strategy is out of scope.
func (w *Workflow) generateQuote(ctx context.Context, in flow.Input) flow.Outcome {
	suppliers, _ := in.State[ChSuppliers].([]any)
	if len(suppliers) == 0 {
		return flow.Fail(errors.New("no suppliers available for quote"))
	}
	top, _ := suppliers[0].(map[string]any)

	params, _ := in.State[ChExtractedParameters].(map[string]any)
	quote := map[string]any{
		"quote_id":   uuid.NewString(),
		"supplier":   top,
		"request":    params,
		"created_at": w.now().UTC().Format(time.RFC3339),
	}
	if price, ok := top["unit_price"]; ok {
		quote["unit_price"] = price
	}
	if currency, ok := params["currency"]; ok {
		quote["currency"] = currency
	} else {
		quote["currency"] = "USD"
	}

	return flow.Update(flow.Delta{
		ChQuote:  quote,
		ChStatus: "quote_generated",
	})
}

const draftSystem = `You draft concise, professional B2B negotiation messages
to textile suppliers on behalf of a buyer. Reference the quote terms. If the
supplier made a counteroffer, respond to it and push toward agreement.
Respond with the message text only.`

// draftMessage writes the next outbound negotiation message. On counteroffer
// rounds the supplier's latest reply is part of the drafting context.
func (w *Workflow) draftMessage(ctx context.Context, in flow.Input) flow.Outcome {
	quote, _ := json.Marshal(in.State[ChQuote])
	var sb strings.Builder
	fmt.Fprintf(&sb, "Quote: %s\n", quote)
	if reply := lastMessageFrom(in.State, "supplier"); reply != "" {
		fmt.Fprintf(&sb, "Supplier's latest reply: %s\n", reply)
	}
	sb.WriteString("Draft the next message to the supplier.")

	draft, err := w.chatText(ctx, draftSystem, sb.String())
	if err != nil {
		return flow.Fail(fmt.Errorf("message drafting: %w", err))
	}
	return flow.Update(flow.Delta{
		ChDraftedMessage: draft,
		ChMessages:       []any{message("assistant", draft)},
		ChStatus:         "message_drafted",
	})
}

// awaitReply suspends the run until the supplier's reply arrives via Resume.
// The resume value is the reply: a plain string, or a map with "content".
func (w *Workflow) awaitReply(ctx context.Context, in flow.Input) flow.Outcome {
	if !in.Resuming {
		return flow.Suspend(map[string]any{
			"query":   "awaiting supplier reply",
			"message": in.GetString(ChDraftedMessage),
		})
	}

	var reply string
	switch v := in.Resume.(type) {
	case string:
		reply = v
	case map[string]any:
		reply, _ = v["content"].(string)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return flow.Fail(errors.New("resume value carries no supplier reply"))
	}

	return flow.Update(flow.Delta{
		ChMessages: []any{message("supplier", reply)},
		ChStatus:   "supplier_replied",
	})
}

const analyzeSystem = `You analyze supplier replies in a B2B textile
negotiation. Classify the supplier's intent as one of: accept (agrees to the
terms), counteroffer (proposes different terms), reject (declines without
alternative), clarification_request (needs more information), delay (needs
time to decide).
Respond with JSON only: {"intent": "...", "confidence": 0.0-1.0}`

// analyzeResponse classifies the supplier's latest reply. Unrecognized
// intents pass through untouched; the router treats them as counteroffers to
// keep the negotiation alive rather than dead-ending the run.
func (w *Workflow) analyzeResponse(ctx context.Context, in flow.Input) flow.Outcome {
	reply := lastMessageFrom(in.State, "supplier")
	if reply == "" {
		return flow.Fail(errors.New("no supplier reply to analyze"))
	}

	parsed, err := w.chatJSON(ctx, analyzeSystem, reply)
	if err != nil {
		return flow.Fail(fmt.Errorf("supplier response analysis: %w", err))
	}
	intent, _ := parsed["intent"].(string)
	confidence, _ := parsed["confidence"].(float64)

	return flow.Update(flow.Delta{
		ChSupplierIntent: map[string]any{"intent": intent, "confidence": confidence},
		ChStatus:         "response_analyzed",
	})
}

// initiateContract formalizes the accepted terms into a contract record.
func (w *Workflow) initiateContract(ctx context.Context, in flow.Input) flow.Outcome {
	quote, _ := in.State[ChQuote].(map[string]any)
	if quote == nil {
		return flow.Fail(errors.New("no quote to contract against"))
	}

	contract := map[string]any{
		"contract_id": uuid.NewString(),
		"quote_id":    quote["quote_id"],
		"supplier":    quote["supplier"],
		"terms":       quote,
		"status":      "initiated",
		"created_at":  w.now().UTC().Format(time.RFC3339),
	}
	return flow.Update(flow.Delta{
		ChContract: contract,
		ChMessages: []any{message("assistant", "Supplier accepted. Contract initiated for review and signature.")},
		ChStatus:   "contract_initiated",
	})
}

const clarifySystem = `You answer a supplier's clarification question during a
B2B textile negotiation, using the quote and request details provided.
Respond with the answer text only, professional and brief.`

// provideClarification answers the supplier's question and routes the answer
// back into the reply loop.
func (w *Workflow) provideClarification(ctx context.Context, in flow.Input) flow.Outcome {
	quote, _ := json.Marshal(in.State[ChQuote])
	question := lastMessageFrom(in.State, "supplier")
	user := fmt.Sprintf("Quote: %s\n\nSupplier's question: %s", quote, question)

	answer, err := w.chatText(ctx, clarifySystem, user)
	if err != nil {
		return flow.Fail(fmt.Errorf("clarification: %w", err))
	}
	return flow.Update(flow.Delta{
		ChDraftedMessage: answer,
		ChMessages:       []any{message("assistant", answer)},
		ChStatus:         "clarification_sent",
	})
}

// followUpDelay is how long to wait before nudging a stalling supplier.
const followUpDelay = 72 * time.Hour

// scheduleFollowUp parks the negotiation and records when to nudge the
// supplier.
func (w *Workflow) scheduleFollowUp(ctx context.Context, in flow.Input) flow.Outcome {
	return flow.Update(flow.Delta{
		ChFollowUp: map[string]any{
			"scheduled_at": w.now().UTC().Add(followUpDelay).Format(time.RFC3339),
			"reason":       "supplier requested time to decide",
		},
		ChStatus: "follow_up_scheduled",
	})
}

// notifyUser closes the run with a summary of where the negotiation landed.
func (w *Workflow) notifyUser(ctx context.Context, in flow.Input) flow.Outcome {
	var summary string
	switch {
	case in.State[ChContract] != nil:
		summary = "Negotiation succeeded: contract initiated and sent for signature."
	case in.State[ChFollowUp] != nil:
		summary = "Supplier needs time; a follow-up is scheduled. Consider sourcing backup suppliers meanwhile."
	default:
		summary = "Supplier declined the terms. Consider adjusting the target price or approaching the next supplier on the shortlist."
	}

	return flow.Update(flow.Delta{
		ChMessages: []any{message("assistant", summary)},
		ChStatus:   "completed",
	})
}

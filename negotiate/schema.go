// Package negotiate implements a B2B textile procurement workflow on the flow
// engine: classify the buyer's inquiry, extract request parameters, source
// suppliers, generate a quote, then negotiate with the supplier over
// suspend/resume rounds until the deal closes or collapses.
package negotiate

import "github.com/dealgraph/dealgraph/flow"

// Channel names for the workflow state.
const (
	// ChMessages is the append-only conversation transcript. Entries are
	// maps with "role" and "content".
	ChMessages = "messages"

	// ChUserInput is the buyer's raw inquiry text.
	ChUserInput = "user_input"

	// ChStatus tracks the workflow's coarse progress for dashboards.
	ChStatus = "status"

	// ChIntent and ChIntentConfidence hold the classified buyer intent.
	ChIntent           = "intent"
	ChIntentConfidence = "intent_confidence"

	// ChExtractedParameters holds the structured request: fabric type,
	// quantity, certifications, delivery constraints.
	ChExtractedParameters = "extracted_parameters"

	// ChSuppliers holds the sourced supplier candidates, best match first.
	ChSuppliers = "suppliers"

	// ChQuote holds the generated quote document.
	ChQuote = "quote"

	// ChDraftedMessage is the current outbound negotiation message.
	ChDraftedMessage = "drafted_message"

	// ChSupplierIntent holds the classification of the supplier's latest
	// reply: a map with "intent" and "confidence".
	ChSupplierIntent = "supplier_intent"

	// ChContract holds the initiated contract once the supplier accepts.
	ChContract = "contract"

	// ChFollowUp holds the scheduled follow-up when the supplier stalls.
	ChFollowUp = "follow_up"
)

// Schema declares the workflow's channels. The transcript appends; everything
// else overwrites.
func Schema() *flow.Schema {
	return flow.NewSchema().
		AppendChannel(ChMessages).
		Channel(ChUserInput).
		Channel(ChStatus).
		Channel(ChIntent).
		Channel(ChIntentConfidence).
		Channel(ChExtractedParameters).
		Channel(ChSuppliers).
		Channel(ChQuote).
		Channel(ChDraftedMessage).
		Channel(ChSupplierIntent).
		Channel(ChContract).
		Channel(ChFollowUp)
}

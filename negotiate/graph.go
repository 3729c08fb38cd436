package negotiate

import (
	"errors"

	"github.com/dealgraph/dealgraph/flow"
)

// BuildGraph compiles the procurement negotiation graph over the workflow's
// collaborators.
//
// The happy path runs intake through quote generation, drafts the opening
// message, and suspends awaiting the supplier. Each supplier reply is
// analyzed and routed: acceptance initiates the contract, a counteroffer
// loops back to drafting, a question gets a clarification and re-enters the
// reply loop, a stall schedules a follow-up, and a rejection goes straight to
// the closing summary.
func BuildGraph(w *Workflow) (*flow.Graph, error) {
	if w == nil || w.Model == nil {
		return nil, errors.New("negotiate: workflow needs a chat model")
	}

	b := flow.NewBuilder(Schema())

	b.AddStep(StepReceiveInput, w.receiveInput)
	b.AddStep(StepClassifyIntent, w.classifyIntent)
	b.AddStep(StepExtractParams, w.extractParameters)
	b.AddStep(StepSupplierSourcing, w.supplierSourcing)
	b.AddStep(StepGenerateQuote, w.generateQuote)
	b.AddStep(StepDraftMessage, w.draftMessage)
	b.AddStep(StepAwaitReply, w.awaitReply)
	b.AddStep(StepAnalyzeResponse, w.analyzeResponse)
	b.AddStep(StepInitiateContract, w.initiateContract)
	b.AddStep(StepClarify, w.provideClarification)
	b.AddStep(StepScheduleFollowUp, w.scheduleFollowUp)
	b.AddStep(StepNotifyUser, w.notifyUser)

	b.StartAt(StepReceiveInput)
	b.AddEdge(StepReceiveInput, StepClassifyIntent)
	b.AddEdge(StepClassifyIntent, StepExtractParams)
	b.AddEdge(StepExtractParams, StepSupplierSourcing)
	b.AddEdge(StepSupplierSourcing, StepGenerateQuote)
	b.AddEdge(StepGenerateQuote, StepDraftMessage)
	b.AddEdge(StepDraftMessage, StepAwaitReply)
	b.AddEdge(StepAwaitReply, StepAnalyzeResponse)
	b.AddConditionalEdge(StepAnalyzeResponse, evaluateNegotiationStatus, statusTargets())
	b.AddEdge(StepInitiateContract, StepNotifyUser)
	b.AddEdge(StepClarify, StepAwaitReply)
	b.AddEdge(StepScheduleFollowUp, StepNotifyUser)
	b.AddEdge(StepNotifyUser, flow.End)

	return b.Compile()
}

package negotiate

import "github.com/dealgraph/dealgraph/flow"

// RouterEvaluateStatus is the name of the conditional edge decision after
// analyze_supplier_response.
const RouterEvaluateStatus = "evaluate_negotiation_status"

// evaluateNegotiationStatus routes on the classified supplier intent:
//
//	accept                -> initiate_contract
//	counteroffer          -> draft_negotiation_message (negotiation loop)
//	reject                -> notify_user_and_suggest_next_steps
//	clarification_request -> provide_clarification
//	delay                 -> schedule_follow_up
//
// Unrecognized intents continue the negotiation loop: a garbled
// classification must not dead-end a live negotiation, and drafting the next
// message is the safe continuation.
func evaluateNegotiationStatus(state flow.Values) string {
	supplierIntent, _ := state[ChSupplierIntent].(map[string]any)
	intent, _ := supplierIntent["intent"].(string)

	switch intent {
	case SupplierAccept, SupplierReject, SupplierClarification, SupplierDelay:
		return intent
	default:
		return SupplierCounteroffer
	}
}

// statusTargets is the declared target set for the negotiation router.
func statusTargets() map[string]string {
	return map[string]string{
		SupplierAccept:        StepInitiateContract,
		SupplierCounteroffer:  StepDraftMessage,
		SupplierReject:        StepNotifyUser,
		SupplierClarification: StepClarify,
		SupplierDelay:         StepScheduleFollowUp,
	}
}

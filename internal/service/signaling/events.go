package signaling

import "encoding/json"

// Call signaling events, client and server share the names
const (
	EventCallOffer       = "voice:call-offer"
	EventCallAnswer      = "voice:call-answer"
	EventIceCandidate    = "voice:ice-candidate"
	EventCallReject      = "voice:call-reject"
	EventHangup          = "voice:hangup"
	EventBusy            = "voice:busy"
	EventUserUnavailable = "voice:user-unavailable"
)

// Reasons carried on reject, hangup and unavailable events
const (
	ReasonBusy        = "busy"
	ReasonNoAnswer    = "no-answer"
	ReasonOffline     = "offline"
	ReasonNotAllowed  = "not-allowed"
	ReasonEnded       = "ended"
	ReasonUnspecified = "unspecified"
)

// OfferRequest is the client payload for voice:call-offer
type OfferRequest struct {
	To       string          `json:"to"`
	Offer    json.RawMessage `json:"offer"`
	CallType string          `json:"callType"`
}

// AnswerRequest is the client payload for voice:call-answer
type AnswerRequest struct {
	To     string          `json:"to"`
	Answer json.RawMessage `json:"answer"`
}

// IceCandidateRequest is the client payload for voice:ice-candidate
type IceCandidateRequest struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

// RejectRequest is the client payload for voice:call-reject
type RejectRequest struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// HangupRequest is the client payload for voice:hangup; To is optional
type HangupRequest struct {
	To     string `json:"to,omitempty"`
	Reason string `json:"reason"`
}

// OfferPayload is relayed to every callee connection
type OfferPayload struct {
	From     string          `json:"from"`
	CallType string          `json:"callType"`
	Offer    json.RawMessage `json:"offer,omitempty"`
}

// AnswerPayload is relayed to the caller
type AnswerPayload struct {
	From   string          `json:"from"`
	Answer json.RawMessage `json:"answer,omitempty"`
}

// IceCandidatePayload is relayed to the peer
type IceCandidatePayload struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// RejectPayload is relayed to the other party
type RejectPayload struct {
	From   string `json:"from"`
	Reason string `json:"reason"`
}

// HangupPayload is relayed to the peer
type HangupPayload struct {
	From   string `json:"from"`
	Reason string `json:"reason"`
}

// BusyPayload goes back to the offering connection
type BusyPayload struct {
	To string `json:"to"`
}

// UnavailablePayload goes back to the offering connection. Reason separates
// a callee with no connections from a caller the callee does not accept.
type UnavailablePayload struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
}

package signal

import "github.com/cartline/callkit/media"

// ── Event name constants ──────────────────────────────────────────────────────
// Single source of truth for all signaling event names. Mirrored in the
// browser client; keep both in sync.
const (
	// 1:1 calls.
	EventCallInitiate = "call_initiate" // caller → callee: ring
	EventCallOffer    = "call_offer"    // caller → callee: SDP offer (also ICE-restart offers)
	EventCallAnswer   = "call_answer"   // callee → caller: SDP answer
	EventICECandidate = "ice_candidate" // either → other: trickle ICE candidate
	EventCallEnd      = "call_end"      // either side: hang up

	// Group calls. Start/join are addressed to the relay service; the relay
	// answers with the *_started / *_joined events carrying the call ID and
	// the authoritative roster.
	EventGroupStart             = "group_call_start"
	EventGroupStarted           = "group_call_started"
	EventGroupJoin              = "group_call_join"
	EventGroupJoined            = "group_call_joined"
	EventGroupParticipantJoined = "group_call_participant_joined"
	EventGroupOffer             = "group_call_offer"
	EventGroupAnswer            = "group_call_answer"
	EventGroupICECandidate      = "group_ice_candidate"
	EventGroupLeave             = "group_call_leave"
	EventGroupEnd               = "group_call_end"
	EventGroupParticipantLeft   = "group_call_participant_left"
	EventGroupEnded             = "group_call_ended"
)

// ── 1:1 payloads ──────────────────────────────────────────────────────────────
//
// Signaling sequence:
//
//   caller                          callee
//   ──────────────────────────────────────────────────────────────
//   call_initiate ──────────────────► (incoming call surface)
//   call_offer    ──────────────────►
//                 ◄────────────────── call_answer  (after answerCall)
//   ice_candidate ◄────────────────► ice_candidate  (trickle, both ways)
//   call_end      ◄────────────────► (either side, any time)
//
// Offers carry a negotiationId (uuid); the matching answer echoes it back so
// a stale answer from a superseded negotiation can be ignored.

// CallInitiatePayload rings the remote party.
type CallInitiatePayload struct {
	TargetUserID string `json:"targetUserId,omitempty"`
	CallerName   string `json:"callerName,omitempty"`
	CallType     string `json:"callType,omitempty"` // "voice" | "video"
}

// CallOfferPayload carries an SDP offer, including ICE-restart offers sent
// during reconnection.
type CallOfferPayload struct {
	TargetUserID  string            `json:"targetUserId,omitempty"`
	NegotiationID string            `json:"negotiationId,omitempty"`
	Offer         media.Description `json:"offer"`
}

// CallAnswerPayload carries the SDP answer back to the offerer.
type CallAnswerPayload struct {
	TargetUserID  string            `json:"targetUserId,omitempty"`
	NegotiationID string            `json:"negotiationId,omitempty"`
	Answer        media.Description `json:"answer"`
}

// ICECandidatePayload carries one trickle ICE candidate.
type ICECandidatePayload struct {
	TargetUserID string              `json:"targetUserId,omitempty"`
	Candidate    media.CandidateInit `json:"candidate"`
}

// CallEndPayload hangs up. No fields beyond routing.
type CallEndPayload struct {
	TargetUserID string `json:"targetUserId,omitempty"`
}

// ── Group payloads ────────────────────────────────────────────────────────────

// ParticipantInfo is one roster entry as reported by the relay.
type ParticipantInfo struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// GroupStartPayload asks the relay to create a group call.
type GroupStartPayload struct {
	ParticipantIDs []string `json:"participantIds"`
	CallType       string   `json:"callType"`
}

// GroupStartedPayload acknowledges the start request with the assigned call
// ID and the roster (excluding the requester).
type GroupStartedPayload struct {
	CallID       string            `json:"callId"`
	Participants []ParticipantInfo `json:"participants"`
}

// GroupJoinPayload asks the relay to add the sender to an existing call.
type GroupJoinPayload struct {
	CallID string `json:"callId"`
}

// GroupJoinedPayload tells the joining guest who is already present.
// The guest initiates a connection to every listed participant.
type GroupJoinedPayload struct {
	CallID       string            `json:"callId"`
	CallType     string            `json:"callType"`
	Participants []ParticipantInfo `json:"participants"`
}

// GroupParticipantJoinedPayload is broadcast when a new party arrives.
// Receivers only seed a placeholder; the newcomer initiates.
type GroupParticipantJoinedPayload struct {
	CallID   string `json:"callId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// GroupOfferPayload carries an SDP offer within a group call.
type GroupOfferPayload struct {
	CallID        string            `json:"callId"`
	TargetUserID  string            `json:"targetUserId,omitempty"`
	FromUserID    string            `json:"fromUserId,omitempty"`
	NegotiationID string            `json:"negotiationId,omitempty"`
	Offer         media.Description `json:"offer"`
}

// GroupAnswerPayload carries an SDP answer within a group call.
type GroupAnswerPayload struct {
	CallID        string            `json:"callId"`
	TargetUserID  string            `json:"targetUserId,omitempty"`
	FromUserID    string            `json:"fromUserId,omitempty"`
	NegotiationID string            `json:"negotiationId,omitempty"`
	Answer        media.Description `json:"answer"`
}

// GroupICECandidatePayload carries one trickle candidate within a group call.
type GroupICECandidatePayload struct {
	CallID       string              `json:"callId"`
	TargetUserID string              `json:"targetUserId,omitempty"`
	FromUserID   string              `json:"fromUserId,omitempty"`
	Candidate    media.CandidateInit `json:"candidate"`
}

// GroupLeavePayload removes the sender from the call.
type GroupLeavePayload struct {
	CallID string `json:"callId"`
}

// GroupEndPayload terminates the call for everyone (host only).
type GroupEndPayload struct {
	CallID string `json:"callId"`
}

// GroupParticipantLeftPayload is broadcast when a party leaves.
type GroupParticipantLeftPayload struct {
	UserID string `json:"userId"`
}

// GroupEndedPayload is broadcast when the host ends the call.
type GroupEndedPayload struct{}

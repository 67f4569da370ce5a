package network

import (
	"encoding/json"
)

const (
	MsgTypeHeartbeat = 1

	// 会话
	MsgTypeBind   = 101
	MsgTypeUnbind = 102
	MsgTypeCreate = 103
	MsgTypeJoin   = 104
	MsgTypeLeave  = 105
	MsgTypeRemove = 106

	// 游戏动作
	MsgTypeStart          = 201
	MsgTypeStartVoting    = 202
	MsgTypeVote           = 203
	MsgTypeProcessResults = 204
	MsgTypeContinue       = 205
	MsgTypeEnd            = 206
	MsgTypeReset          = 207
	MsgTypeGetView        = 208

	// 服务器推送
	MsgTypeReply     = 300
	MsgTypeGameState = 301
	MsgTypeUnbound   = 302
)

// Request is the payload of every client message. Fields not used by a
// message type are left empty.
type Request struct {
	Seq      uint32 `json:"seq"`
	ClientID string `json:"client_id,omitempty"`
	Code     string `json:"code,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
	TargetID string `json:"target_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Suit     string `json:"suit,omitempty"`
	Winner   string `json:"winner,omitempty"`
}

// ErrorBody carries a stable error code and the user-facing message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reply answers exactly one Request with the same Seq.
type Reply struct {
	Seq      uint32          `json:"seq"`
	Code     string          `json:"code,omitempty"`
	PlayerID string          `json:"player_id,omitempty"`
	View     json.RawMessage `json:"view,omitempty"`
	Error    *ErrorBody      `json:"error,omitempty"`
}

// Unbound tells a client its game is gone or it was removed from it.
type Unbound struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// SendJSON marshals v and sends it as one packet.
func SendJSON(conn Connection, msgID uint16, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Send(msgID, data)
}

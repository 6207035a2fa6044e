// Package protocol defines the JSON envelope exchanged with reporting
// agents over their persistent channel. The envelope shape and the
// camelCase payload keys are fixed by the deployed agents, so nothing
// here is free to change without coordinating an agent rollout.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"tokenvault-backend/lib/timezone"
)

type Type string

const (
	// agent to server
	TypeRegister    Type = "register"
	TypeTokenUpload Type = "token_upload"
	TypeHeartbeat   Type = "heartbeat"

	// server to agent
	TypeRegisterAck  Type = "register_ack"
	TypeTokenAck     Type = "token_ack"
	TypeHeartbeatAck Type = "heartbeat_ack"
	TypeTokenExpired Type = "token_expired"
	TypeTokenDeleted Type = "token_deleted"
	TypeError        Type = "error"
)

var knownTypes = map[Type]bool{
	TypeRegister:     true,
	TypeTokenUpload:  true,
	TypeHeartbeat:    true,
	TypeRegisterAck:  true,
	TypeTokenAck:     true,
	TypeHeartbeatAck: true,
	TypeTokenExpired: true,
	TypeTokenDeleted: true,
	TypeError:        true,
}

// token_upload source values the agents are allowed to report
const (
	SourceResponse     = "response"
	SourceCookie       = "cookie"
	SourceLocalStorage = "localStorage"
)

var knownSources = map[string]bool{
	SourceResponse:     true,
	SourceCookie:       true,
	SourceLocalStorage: true,
}

// account types with distinct keep-alive probe conventions
const (
	AccountTypeAgent   = "agent"
	AccountTypeNetwork = "network"
)

var ErrParse = errors.New("malformed message")

// ValidationError reports a structurally sound message that breaks the
// protocol's field requirements.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

type Envelope struct {
	Type      Type           `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

func Parse(raw []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(raw, &env)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s", ErrParse, err.Error())
	}
	return env, nil
}

// Validate checks the three top-level fields and that the type belongs
// to the closed set. Payload contents are checked per-type.
func (e Envelope) Validate() error {
	if e.Type == "" {
		return &ValidationError{Reason: "message is missing 'type'"}
	}
	if e.Timestamp == 0 {
		return &ValidationError{Reason: "message is missing 'timestamp'"}
	}
	if e.Payload == nil {
		return &ValidationError{Reason: "message is missing 'payload'"}
	}
	if !knownTypes[e.Type] {
		return &ValidationError{Reason: fmt.Sprintf("unknown message type: %s", e.Type)}
	}
	return nil
}

func payloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

// ValidateRegister returns the registering agent's extension id.
func ValidateRegister(payload map[string]any) (string, error) {
	extensionId := payloadString(payload, "extensionId")
	if extensionId == "" {
		return "", &ValidationError{Reason: "register message requires a non-empty extensionId"}
	}
	return extensionId, nil
}

// TokenUpload is the decoded payload of a token_upload message.
type TokenUpload struct {
	Token       string
	UserId      string
	Source      string
	Account     string
	AccountType string
	NetworkCode string
	NetworkName string
	NetworkId   int64
}

func ValidateTokenUpload(payload map[string]any) (TokenUpload, error) {
	up := TokenUpload{
		Token:       payloadString(payload, "token"),
		UserId:      payloadString(payload, "userId"),
		Source:      payloadString(payload, "source"),
		Account:     payloadString(payload, "account"),
		AccountType: payloadString(payload, "accountType"),
		NetworkCode: payloadString(payload, "networkCode"),
		NetworkName: payloadString(payload, "networkName"),
	}
	if networkId, ok := payload["networkId"].(float64); ok {
		up.NetworkId = int64(networkId)
	}

	if up.Token == "" {
		return TokenUpload{}, &ValidationError{Reason: "token_upload message requires a non-empty token"}
	}
	if up.UserId == "" {
		return TokenUpload{}, &ValidationError{Reason: "token_upload message requires a non-empty userId"}
	}
	if _, present := payload["source"]; present && !knownSources[up.Source] {
		return TokenUpload{}, &ValidationError{Reason: fmt.Sprintf("unknown token source: %s", up.Source)}
	}
	if up.AccountType != "" && up.AccountType != AccountTypeAgent && up.AccountType != AccountTypeNetwork {
		return TokenUpload{}, &ValidationError{Reason: fmt.Sprintf("unknown account type: %s", up.AccountType)}
	}
	return up, nil
}

// ValidateHeartbeat returns the heartbeating agent's extension id.
func ValidateHeartbeat(payload map[string]any) (string, error) {
	extensionId := payloadString(payload, "extensionId")
	if extensionId == "" {
		return "", &ValidationError{Reason: "heartbeat message requires an extensionId"}
	}
	return extensionId, nil
}

func now() int64 {
	return timezone.Now().UnixMilli()
}

func envelope(t Type, payload map[string]any) Envelope {
	return Envelope{Type: t, Timestamp: now(), Payload: payload}
}

func NewRegisterAck(success bool, message string) Envelope {
	return envelope(TypeRegisterAck, map[string]any{
		"success": success,
		"message": message,
	})
}

func NewTokenAck(success bool, tokenId int64, message string) Envelope {
	payload := map[string]any{
		"success": success,
		"message": message,
	}
	if tokenId != 0 {
		payload["tokenId"] = tokenId
	}
	return envelope(TypeTokenAck, payload)
}

func NewHeartbeatAck() Envelope {
	return envelope(TypeHeartbeatAck, map[string]any{})
}

func NewTokenExpired(userId string, reason string) Envelope {
	return envelope(TypeTokenExpired, map[string]any{
		"userId": userId,
		"reason": reason,
	})
}

func NewTokenDeleted(userId string, reason string) Envelope {
	return envelope(TypeTokenDeleted, map[string]any{
		"userId": userId,
		"reason": reason,
	})
}

func NewError(code int, message string) Envelope {
	return envelope(TypeError, map[string]any{
		"code":    code,
		"message": message,
	})
}

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"tokenvault-backend/lib/protocol"
	"tokenvault-backend/services/tokens"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// wsChannel adapts a websocket connection to the registry's Channel
// interface.
type wsChannel struct {
	conn *websocket.Conn
}

func (c wsChannel) Send(ctx context.Context, env protocol.Envelope) error {
	return wsjson.Write(ctx, c.conn, env)
}

func (c wsChannel) Close(code websocket.StatusCode, reason string) error {
	return c.conn.Close(code, reason)
}

// readEnvelope blocks for the next frame and runs the envelope-level
// checks. Protocol-shaped errors (ErrParse, ValidationError) are
// recoverable; anything else means the connection is gone.
func readEnvelope(ctx context.Context, conn *websocket.Conn) (protocol.Envelope, error) {
	_, raw, err := conn.Read(ctx)
	if err != nil {
		return protocol.Envelope{}, err
	}

	env, err := protocol.Parse(raw)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return env, env.Validate()
}

func isProtocolError(err error) bool {
	var invalid *protocol.ValidationError
	return errors.Is(err, protocol.ErrParse) || errors.As(err, &invalid)
}

// handleWebsocket is the agent channel. The first frame must be a
// register message; until it arrives no registry entry exists and the
// agent gets nothing but an error and a close.
func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleWebsocket")
	defer span.End()

	// agents connect from chrome-extension:// origins, access control
	// is by client address in the lanOnly middleware instead
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "websocket accept failed", "err", err)
		return
	}
	ch := wsChannel{conn}

	env, err := readEnvelope(ctx, conn)
	if err != nil {
		if isProtocolError(err) {
			ch.Send(ctx, protocol.NewError(400, err.Error()))
		}
		conn.Close(websocket.StatusPolicyViolation, "not registered")
		return
	}
	if env.Type != protocol.TypeRegister {
		ch.Send(ctx, protocol.NewError(400, "first message must be register"))
		conn.Close(websocket.StatusPolicyViolation, "not registered")
		return
	}
	extensionId, err := protocol.ValidateRegister(env.Payload)
	if err != nil {
		ch.Send(ctx, protocol.NewError(400, err.Error()))
		conn.Close(websocket.StatusPolicyViolation, "not registered")
		return
	}

	s.reg.Connect(ch, extensionId)
	defer s.reg.DisconnectIf(extensionId, ch)

	err = ch.Send(ctx, protocol.NewRegisterAck(true, "registered"))
	if err != nil {
		return
	}

	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			if isProtocolError(err) {
				ch.Send(ctx, protocol.NewError(400, err.Error()))
				continue
			}
			slog.InfoContext(ctx, "websocket closed", "extension_id", extensionId)
			return
		}
		s.handleAgentMessage(ctx, ch, extensionId, env)
	}
}

func (s *Service) handleAgentMessage(ctx context.Context, ch wsChannel, extensionId string, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeTokenUpload:
		s.handleTokenUpload(ctx, ch, extensionId, env.Payload)

	case protocol.TypeHeartbeat:
		_, err := protocol.ValidateHeartbeat(env.Payload)
		if err != nil {
			ch.Send(ctx, protocol.NewError(400, err.Error()))
			return
		}
		s.reg.UpdateHeartbeat(extensionId)
		ch.Send(ctx, protocol.NewHeartbeatAck())

	default:
		slog.WarnContext(ctx, "unsupported message from agent",
			"extension_id", extensionId, "type", env.Type)
		ch.Send(ctx, protocol.NewError(400, "unsupported message type: "+string(env.Type)))
	}
}

func (s *Service) handleTokenUpload(ctx context.Context, ch wsChannel, extensionId string, payload map[string]any) {
	ctx, span := tracer.Start(ctx, "handleTokenUpload")
	defer span.End()

	up, err := protocol.ValidateTokenUpload(payload)
	if err != nil {
		ch.Send(ctx, protocol.NewError(400, err.Error()))
		return
	}

	row, err := s.store.CreateOrUpdate(ctx, tokens.UpsertParams{
		Token:       up.Token,
		UserId:      up.UserId,
		ExtensionId: extensionId,
		Account:     up.Account,
		AccountType: up.AccountType,
		NetworkCode: up.NetworkCode,
		NetworkName: up.NetworkName,
		NetworkId:   up.NetworkId,
	})

	var invalid *tokens.ValidationError
	if errors.As(err, &invalid) {
		ch.Send(ctx, protocol.NewTokenAck(false, 0, invalid.Reason))
		return
	}
	if err != nil {
		span.RecordError(err)
		slog.ErrorContext(ctx, "storage failure", "extension_id", extensionId, "err", err)
		ch.Send(ctx, protocol.NewTokenAck(false, 0, "storage failure"))
		return
	}

	// the stored row carries the canonical user id, which may differ
	// from the uploaded one when an account overrides it
	s.reg.SetUserId(extensionId, row.UserID)
	ch.Send(ctx, protocol.NewTokenAck(true, row.ID, "token saved"))
}

package ws

import (
	"github.com/sirupsen/logrus"

	"github.com/whisper/moderation/internal/protocol"
)

// MessageHandler receives the value protocol.ParseClientMessage produced, such
// as a protocol.AnalyzeMsg.
type MessageHandler func(conn *Connection, msg any)

// MessageDispatcher routes client messages by their "type". Ping is answered
// directly; malformed and unknown messages get an invalid_message error.
// Handlers must be registered before the server starts.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	log      *logrus.Entry
}

func NewMessageDispatcher(logger logrus.FieldLogger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		log:      logger.WithField("component", "ws.dispatch"),
	}
}

// Register sets the handler for msgType, replacing any previous one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the Server's onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.WithField("session", conn.ID).WithError(err).Debug("parse error")
		d.SendError(conn, "", protocol.CodeInvalidMessage, "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.WithField("session", conn.ID).WithField("type", msgType).Debug("unsupported message type")
		d.SendError(conn, "", protocol.CodeInvalidMessage, "unsupported message type")
		return
	}

	handler(conn, msg)
}

// Send marshals payload as a server message of msgType and writes it.
// Failures are logged, not returned.
func (d *MessageDispatcher) Send(conn *Connection, msgType string, payload any) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		d.log.WithField("session", conn.ID).WithError(err).Errorf("failed to build %s message", msgType)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.log.WithField("session", conn.ID).WithError(err).Debugf("failed to send %s message", msgType)
	}
}

// SendError writes an error message. id may be empty when the failing
// message had none.
func (d *MessageDispatcher) SendError(conn *Connection, id, code, message string) {
	d.Send(conn, protocol.TypeError, protocol.ErrorMsg{
		ID:      id,
		Code:    code,
		Message: message,
	})
}

func (d *MessageDispatcher) sendPong(conn *Connection) {
	d.Send(conn, protocol.TypePong, protocol.PongMsg{})
}

package websocket

import (
	"fmt"
	"sync"

	"auction-relay/internal/domain"
	"auction-relay/pkg/logger"
)

// ConnectionManager holds the websockets terminated by this process and
// delivers relay outbounds to them.
type ConnectionManager struct {
	connections map[string]*Connection
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		log:         log,
	}
}

func (cm *ConnectionManager) Add(conn *Connection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if _, exists := cm.connections[conn.ID()]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateConnection, conn.ID())
	}
	cm.connections[conn.ID()] = conn

	cm.log.Debug("Connection added", "connection_id", conn.ID())
	return nil
}

func (cm *ConnectionManager) Remove(connectionID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	delete(cm.connections, connectionID)
	cm.log.Debug("Connection removed", "connection_id", connectionID)
}

func (cm *ConnectionManager) Get(connectionID string) (*Connection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	conn, ok := cm.connections[connectionID]
	return conn, ok
}

func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// Send implements domain.ConnectionSender.
func (cm *ConnectionManager) Send(connectionID string, message *domain.Outbound) error {
	conn, ok := cm.Get(connectionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}

	frame, err := EncodeOutbound(message)
	if err != nil {
		return err
	}

	if err := conn.Enqueue(frame); err != nil {
		cm.log.Warn("Failed to enqueue message", "connection_id", connectionID, "event", message.Event, "error", err)
		return err
	}
	return nil
}

// CloseAll closes every held connection; their handlers then run the
// normal disconnect path.
func (cm *ConnectionManager) CloseAll() {
	cm.mutex.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mutex.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
	cm.log.Info("Closed all connections", "count", len(conns))
}

var _ domain.ConnectionSender = (*ConnectionManager)(nil)

// Package bridge forwards what a Green Power device hears and learns to
// MQTT as JSON, wrapping the application collaborator of a
// commissioning.Device.
//
// Topics are rooted at <root>/<device>:
//
//	<root>/<device>/command       received application commands
//	<root>/<device>/channel       channel configurations
//	<root>/<device>/commissioned  commissioning replies
//	<root>/<device>/status        status snapshots
package bridge

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/greenpower/gpd-go/pkg/commissioning"
	"github.com/greenpower/gpd-go/pkg/wire"
)

// DefaultRoot is the default topic root.
const DefaultRoot = "gpd"

// CommandMessage is published for every received application command.
type CommandMessage struct {
	Command uint8     `json:"command"`
	Name    string    `json:"name"`
	Payload string    `json:"payload"`
	Time    time.Time `json:"time"`
}

// ChannelMessage is published when the device learns its operating channel.
type ChannelMessage struct {
	Channel uint8     `json:"channel"`
	Time    time.Time `json:"time"`
}

// CommissionedMessage is published when a commissioning reply is accepted.
type CommissionedMessage struct {
	SecurityLevel uint8     `json:"security_level"`
	KeyType       uint8     `json:"key_type"`
	KeyEncrypted  bool      `json:"key_encrypted"`
	PANID         *uint16   `json:"pan_id,omitempty"`
	Time          time.Time `json:"time"`
}

// StatusMessage mirrors commissioning.Status.
type StatusMessage struct {
	Address       string    `json:"address"`
	State         string    `json:"state"`
	Channel       uint8     `json:"channel"`
	FrameCounter  uint32    `json:"frame_counter"`
	SecurityLevel string    `json:"security_level"`
	KeyType       string    `json:"key_type"`
	Time          time.Time `json:"time"`
}

// Bridge decorates an Application. Every callback is forwarded to the
// wrapped application after publishing. Publish failures are logged and
// never reach the device.
type Bridge struct {
	commissioning.Application

	pub    Publisher
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// New wraps app. A nil app is replaced by commissioning.NopApplication.
func New(app commissioning.Application, pub Publisher, root, deviceName string, logger *slog.Logger) *Bridge {
	if app == nil {
		app = commissioning.NopApplication{}
	}
	if root == "" {
		root = DefaultRoot
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		Application: app,
		pub:         pub,
		prefix:      root + "/" + deviceName + "/",
		logger:      logger,
		now:         time.Now,
	}
}

// HandleCommand publishes an inbound application command to the command
// topic and forwards it to the wrapped application.
func (b *Bridge) HandleCommand(cmd uint8, payload []byte) {
	b.publish("command", CommandMessage{
		Command: cmd,
		Name:    wire.CommandName(cmd),
		Payload: hex.EncodeToString(payload),
		Time:    b.now(),
	})
	b.Application.HandleCommand(cmd, payload)
}

// ChannelReceived publishes the operating channel handed out by the sink.
func (b *Bridge) ChannelReceived(channel uint8) {
	b.publish("channel", ChannelMessage{Channel: channel, Time: b.now()})
	b.Application.ChannelReceived(channel)
}

// CommissioningReplyReceived publishes the installed security parameters.
// The key itself never leaves the device.
func (b *Bridge) CommissioningReplyReceived(reply *wire.CommissioningReply) {
	b.publish("commissioned", CommissionedMessage{
		SecurityLevel: uint8(reply.SecurityLevel),
		KeyType:       uint8(reply.KeyType),
		KeyEncrypted:  reply.KeyEncrypted,
		PANID:         reply.PANID,
		Time:          b.now(),
	})
	b.Application.CommissioningReplyReceived(reply)
}

// PublishStatus publishes a status snapshot.
func (b *Bridge) PublishStatus(s commissioning.Status) {
	b.publish("status", StatusMessage{
		Address:       s.Address,
		State:         s.State.String(),
		Channel:       s.Channel,
		FrameCounter:  s.FrameCounter,
		SecurityLevel: s.SecurityLevel.String(),
		KeyType:       s.KeyType.String(),
		Time:          s.Timestamp,
	})
}

func (b *Bridge) publish(topic string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Warn("bridge marshal failed", "topic", topic, "error", err)
		return
	}
	if err := b.pub.Publish(b.prefix+topic, data); err != nil {
		b.logger.Warn("bridge publish failed", "topic", b.prefix+topic, "error", err)
	}
}

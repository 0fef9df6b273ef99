package chromecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-cast/internal/audit"
	"github.com/nerrad567/gray-logic-cast/internal/cast"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// DefaultBridgeID identifies this bridge in health and discovery messages.
	DefaultBridgeID = "chromecast"

	// requestTimeout bounds a read request.
	requestTimeout = 20 * time.Second

	qosAtLeastOnce byte = 1
)

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the part of the MQTT client the bridge uses.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Controller runs cast commands. *cast.Controller satisfies it.
type Controller interface {
	Execute(ctx context.Context, id string, cmd cast.Command, params json.RawMessage) (any, error)
	CapabilityGet(ctx context.Context, id string, capability cast.Capability) (any, error)
}

// Auditor records commands received over MQTT. *audit.Recorder satisfies it.
type Auditor interface {
	Command(ctx context.Context, source, subject, deviceID, command string, cmdErr error)
}

// Bridge translates between the Gray Logic MQTT topics and the cast core.
// It handles:
//   - Commands from Core, acknowledged once they complete or fail
//   - Read requests, answered on the response topic
//   - Capability changes, published as retained state
//   - Newly known receivers, published as a retained discovery list
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id         string
	mqtt       MQTTClient
	controller Controller
	registry   *cast.Registry
	caps       *cast.Capabilities
	auditor    Auditor
	health     *HealthReporter
	topics     mqtt.Topics

	commands atomic.Uint64
	failures atomic.Uint64

	// Shutdown coordination
	runMu     sync.Mutex
	stopped   bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID defaults to DefaultBridgeID.
	BridgeID string

	// Version is reported in health messages.
	Version string

	MQTTClient MQTTClient
	Controller Controller
	Registry   *cast.Registry

	// Capabilities is the cache whose changes are published as state.
	Capabilities *cast.Capabilities

	// Connections provides connection statistics for health reports.
	// Optional.
	Connections ConnStatsSource

	// Auditor records every executed command. Optional.
	Auditor Auditor

	// HealthInterval defaults to 30 seconds.
	HealthInterval time.Duration

	// Logger is optional.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Capabilities == nil {
		return nil, fmt.Errorf("capabilities are required")
	}
	if opts.BridgeID == "" {
		opts.BridgeID = DefaultBridgeID
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		id:         opts.BridgeID,
		mqtt:       opts.MQTTClient,
		controller: opts.Controller,
		registry:   opts.Registry,
		caps:       opts.Capabilities,
		auditor:    opts.Auditor,
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:    opts.BridgeID,
		Version:     opts.Version,
		Interval:    opts.HealthInterval,
		Publisher:   opts.MQTTClient,
		Connections: opts.Connections,
		Devices:     func() int { return len(opts.Registry.Snapshot()) },
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to the command and request topics, hooks capability and
// discovery events, and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, qosAtLeastOnce, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := b.topics.AllRequests()
	if err := b.mqtt.Subscribe(requestTopic, qosAtLeastOnce, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.caps.OnChange(b.handleCapabilityChange)
	b.registry.OnDeviceKnown(b.handleDeviceKnown)

	b.health.Start(ctx)
	b.publishDiscovery()

	b.logInfo("bridge started", "bridge_id", b.id, "devices", len(b.registry.Snapshot()))
	return nil
}

// Stop cancels in-flight commands, waits for them, and publishes a final
// "stopping" health status.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.runMu.Lock()
		b.stopped = true
		b.runMu.Unlock()

		b.ctxCancel()
		b.wg.Wait()
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// spawn runs fn on its own goroutine unless the bridge is stopping.
func (b *Bridge) spawn(fn func()) bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.stopped {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
	return true
}

func (b *Bridge) isStopped() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.stopped
}

// handleMQTTMessage routes incoming MQTT messages. Commands can take
// seconds, so each runs on its own goroutine and the MQTT client is never
// blocked.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	category, id, ok := b.topics.Split(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrInvalidMessage, topic)
	}

	switch category {
	case "command":
		b.spawn(func() { b.handleCommand(id, payload) })
	case "request":
		b.spawn(func() { b.handleRequest(id, payload) })
	default:
		return fmt.Errorf("%w: unexpected category %q", ErrInvalidMessage, category)
	}
	return nil
}

// handleCommand runs one command and acknowledges it.
func (b *Bridge) handleCommand(deviceID string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", fmt.Errorf("%w: %w", ErrInvalidMessage, err))
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = deviceID
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	b.commands.Add(1)
	result, err := b.executeCommand(cmd)
	if b.auditor != nil {
		b.auditor.Command(b.ctx, audit.SourceMQTT, cmd.Source, cmd.DeviceID, cmd.Command, err)
	}
	if err != nil {
		b.failures.Add(1)
		b.logWarn("command failed",
			"command_id", cmd.ID,
			"device_id", cmd.DeviceID,
			"command", cmd.Command,
			"code", ErrorCode(err),
			"error", err)
		b.publishAck(NewAckError(cmd, err))
		return
	}
	b.publishAck(NewAckMessage(cmd, result))
}

func (b *Bridge) executeCommand(cmd CommandMessage) (any, error) {
	command := cast.Command(cmd.Command)
	if !routedCommands[command] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
	if cmd.DeviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrInvalidMessage)
	}
	return b.controller.Execute(b.ctx, cmd.DeviceID, command, cmd.Parameters)
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(ack.DeviceID), payload, qosAtLeastOnce, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleRequest answers a read request.
func (b *Bridge) handleRequest(deviceID string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", fmt.Errorf("%w: %w", ErrInvalidMessage, err))
		return
	}
	if req.RequestID == "" {
		b.logError("request without request_id", ErrInvalidMessage)
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = deviceID
	}

	b.logDebug("received request",
		"request_id", req.RequestID,
		"device_id", req.DeviceID,
		"action", req.Action)

	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()

	var resp ResponseMessage
	data, err := b.answer(ctx, req)
	if err != nil {
		resp = NewResponseError(req, err)
	} else {
		resp = NewResponse(req, data)
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Response(req.RequestID), respPayload, qosAtLeastOnce, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

func (b *Bridge) answer(ctx context.Context, req RequestMessage) (map[string]any, error) {
	if req.Action == ActionListDevices {
		devices := b.registry.Snapshot()
		out := make([]DiscoveredDevice, 0, len(devices))
		for _, d := range devices {
			out = append(out, NewDiscoveredDevice(d))
		}
		return map[string]any{"devices": out}, nil
	}

	if req.DeviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrInvalidMessage)
	}

	switch req.Action {
	case ActionGetVolume:
		v, err := b.controller.Execute(ctx, req.DeviceID, cast.CmdGetVolume, nil)
		if err != nil {
			return nil, err
		}
		return map[string]any{"volume": v}, nil

	case ActionGetPlaying:
		playing, err := b.controller.Execute(ctx, req.DeviceID, cast.CmdGetPlaying, nil)
		if err != nil {
			return nil, err
		}
		return map[string]any{"playing": playing}, nil

	case ActionGetCapabilities:
		data := make(map[string]any, len(readableCapabilities))
		for _, capability := range readableCapabilities {
			v, err := b.controller.CapabilityGet(ctx, req.DeviceID, capability)
			if err != nil {
				return nil, err
			}
			data[string(capability)] = v
		}
		return data, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
}

// handleCapabilityChange publishes the device's full capability state.
func (b *Bridge) handleCapabilityChange(change cast.CapabilityChange) {
	if b.isStopped() {
		return
	}
	msg := NewStateMessage(change.DeviceID, b.caps.Snapshot(change.DeviceID), change.Capability)
	if err := b.publishJSON(b.topics.State(change.DeviceID), msg, true); err != nil {
		b.logDebug("state not published", "device_id", change.DeviceID, "error", err)
	}
}

// handleDeviceKnown republishes the discovery list.
func (b *Bridge) handleDeviceKnown(d cast.Device) {
	if b.isStopped() {
		return
	}
	b.logDebug("device known", "device_id", d.ID, "name", d.Name)
	b.publishDiscovery()
}

func (b *Bridge) publishDiscovery() {
	msg := NewDiscoveryMessage(b.id, b.registry.Snapshot())
	if err := b.publishJSON(b.topics.Discovery(), msg, true); err != nil {
		b.logDebug("discovery not published", "error", err)
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.mqtt.Publish(topic, payload, qosAtLeastOnce, retained)
}

// BridgeMetrics contains counters for the API and health reports.
type BridgeMetrics struct {
	Connected      bool   `json:"connected"`
	CommandsTotal  uint64 `json:"commands_total"`
	CommandsFailed uint64 `json:"commands_failed"`
	DevicesKnown   int    `json:"devices_known"`
}

// GetMetrics returns current bridge counters.
func (b *Bridge) GetMetrics() BridgeMetrics {
	return BridgeMetrics{
		Connected:      b.mqtt.IsConnected(),
		CommandsTotal:  b.commands.Load(),
		CommandsFailed: b.failures.Load(),
		DevicesKnown:   len(b.registry.Snapshot()),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set. Context cancellation
// during shutdown is not an error.
func (b *Bridge) logError(msg string, err error) {
	if errors.Is(err, context.Canceled) && b.isStopped() {
		return
	}
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// internal/session/controller.go
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/hallmonitor/internal/chat"
	"github.com/user/hallmonitor/internal/inputlock"
	"github.com/user/hallmonitor/internal/netcontrol"
	"github.com/user/hallmonitor/internal/screen"
	"github.com/user/hallmonitor/internal/sysinfo"
	"github.com/user/hallmonitor/internal/transfer"
	"github.com/user/hallmonitor/internal/types"
	"github.com/user/hallmonitor/internal/webfilter"
)

// coordinatorUser is the chat peer name for the coordinator operator.
const coordinatorUser = "server"

// InputLocker is the slice of the lock manager the controller uses.
type InputLocker interface {
	Lock(class types.DeviceClass) (*inputlock.OpResult, error)
	Unlock(class types.DeviceClass) (*inputlock.OpResult, error)
	Status() inputlock.Status
	EmergencyUnlockAll() map[string]inputlock.OpResult
	Diagnose() (*inputlock.Diagnosis, error)
}

// PingSwitch toggles whether the host answers ICMP echo.
type PingSwitch interface {
	EnablePing() error
	DisablePing() error
}

// Deps are the collaborators the controller dispatches into. All of
// them are constructed once and injected, so tests can swap any piece.
type Deps struct {
	Transport types.Transport
	Locks     InputLocker
	Chats     *chat.Store
	Assembler *transfer.Assembler
	Storage   *transfer.Storage
	Streamer  *screen.Streamer
	Filter    *webfilter.Filter
	Firewall  PingSwitch
	Prober    netcontrol.Prober
	Power     Power
	ChunkSize int
}

// command binds an inbound event to its handler and the canonical
// result event where failures are reported.
type command struct {
	handler     func(data []byte) error
	resultEvent string
	long        bool
}

// Controller owns command dispatch: it maps inbound named events to
// subsystem actions and emits structured results back through the
// transport. Short handlers run inline on the dispatch goroutine; long
// ones (streaming) run in supervised goroutines bounded by a semaphore.
type Controller struct {
	deps     Deps
	identity *Identity
	commands map[string]command
	sem      *semaphore.Weighted

	mu           sync.Mutex
	runCtx       context.Context
	streamCancel context.CancelFunc
}

// NewController wires the dispatch table and registers the transport
// callbacks. maxConcurrent bounds simultaneous long-running handlers.
func NewController(deps Deps, maxConcurrent int64) *Controller {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	c := &Controller{
		deps:     deps,
		identity: &Identity{},
		sem:      semaphore.NewWeighted(maxConcurrent),
	}
	c.commands = map[string]command{
		"request_screenshot":     {c.handleScreenshot, "screenshot_error", false},
		"start_screen_stream":    {c.handleStartStream, "screen_stream_ended", true},
		"lock_keyboard":          {c.handleLock(types.ClassKeyboard), "keyboard_locked", false},
		"unlock_keyboard":        {c.handleUnlock(types.ClassKeyboard), "keyboard_unlocked", false},
		"lock_mouse":             {c.handleLock(types.ClassMouse), "mouse_locked", false},
		"unlock_mouse":           {c.handleUnlock(types.ClassMouse), "mouse_unlocked", false},
		"get_input_status":       {c.handleInputStatus, "input_status", false},
		"emergency_unlock_all":   {c.handleEmergencyUnlock, "emergency_unlock_complete", false},
		"diagnose_input_devices": {c.handleDiagnose, "input_devices_diagnosis", false},
		"request_file_transfer":  {c.handleFileTransferRequest, "file_transfer_complete", false},
		"file_chunk":             {c.handleFileChunk, "file_transfer_complete", false},
		"chat_message":           {c.handleChatMessage, "message_read", false},
		"request_system_info":    {c.handleSystemInfo, "system_info_response", false},
		"shutdown_pc":            {c.handleShutdown, "pc_shutting_down", false},
		"restart_pc":             {c.handleRestart, "pc_restarting", false},
		"block_website":          {c.handleBlockWebsite, "website_blocked", false},
		"unblock_website":        {c.handleUnblockWebsite, "website_unblocked", false},
		"set_ping_status":        {c.handleSetPingStatus, "ping_status_changed", false},
		"ping_test":              {c.handlePingTest, "ping_test_result", false},
	}

	deps.Transport.OnEvent(c.Dispatch)
	deps.Transport.OnConnect(c.handleConnect)
	deps.Transport.OnDisconnect(c.handleDisconnect)
	return c
}

// ClientID returns the agent's registration id.
func (c *Controller) ClientID() string { return c.identity.ID() }

// Run services the transport until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()
	return c.deps.Transport.Run(ctx)
}

// Dispatch routes one inbound envelope to its handler. Unknown commands
// are dropped with a warning; handler failures are converted to a
// {success:false, error} payload on the command's canonical result
// event. Nothing escapes past this boundary.
func (c *Controller) Dispatch(event string, data []byte) {
	cmd, ok := c.commands[event]
	if !ok {
		slog.Warn("dropping unknown command", "event", event)
		return
	}
	if !cmd.long {
		c.invoke(event, cmd, data)
		return
	}

	c.mu.Lock()
	ctx := c.runCtx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return
	}
	go func() {
		defer c.sem.Release(1)
		c.invoke(event, cmd, data)
	}()
}

func (c *Controller) invoke(event string, cmd command, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panicked", "event", event, "panic", r)
			c.emitFailure(cmd.resultEvent, fmt.Sprintf("internal error: %v", r))
		}
	}()
	if err := cmd.handler(data); err != nil {
		slog.Error("handler failed", "event", event, "error", err)
		c.emitFailure(cmd.resultEvent, err.Error())
	}
}

func (c *Controller) emitFailure(resultEvent, msg string) {
	payload := map[string]any{
		"client_id": c.identity.ID(),
		"success":   false,
		"error":     msg,
	}
	if err := c.deps.Transport.Emit(resultEvent, payload); err != nil {
		slog.Error("failed to report handler error", "event", resultEvent, "error", err)
	}
}

// handleConnect registers the agent and marks the coordinator online
// for chat broadcast purposes.
func (c *Controller) handleConnect() {
	reg := NewRegistration()
	if err := c.deps.Transport.Emit("register_client", reg); err != nil {
		slog.Error("registration failed", "error", err)
	}
	c.deps.Chats.AddUser(coordinatorUser)
	slog.Info("registered", "client_id", c.identity.ID(), "name", reg.Name)
}

// handleDisconnect cancels supervised tasks. Lock state is deliberately
// preserved across reconnects.
func (c *Controller) handleDisconnect() {
	c.cancelStream()
	c.deps.Chats.RemoveUser(coordinatorUser)
}

// --- screen ---

func (c *Controller) handleScreenshot(data []byte) error {
	var req struct {
		Quality int     `json:"quality"`
		Scale   float64 `json:"scale"`
	}
	if len(data) > 0 {
		json.Unmarshal(data, &req)
	}
	if req.Quality <= 0 {
		req.Quality = 80
	}
	if req.Scale <= 0 {
		req.Scale = 1.0
	}

	shot, err := c.deps.Streamer.Screenshot(req.Quality, req.Scale)
	if err != nil {
		return fmt.Errorf("capturing screenshot: %w", err)
	}
	return c.deps.Transport.Emit("screenshot_data", map[string]any{
		"client_id":  c.identity.ID(),
		"screenshot": shot,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

// frameSink forwards stream frames over the transport.
type frameSink struct {
	c *Controller
}

func (s frameSink) SendFrame(frame string) error {
	return s.c.deps.Transport.Emit("screen_frame", map[string]any{
		"client_id": s.c.identity.ID(),
		"frame":     frame,
	})
}

func (s frameSink) StreamEnded(reason string) {
	s.c.deps.Transport.Emit("screen_stream_ended", map[string]any{
		"client_id": s.c.identity.ID(),
		"error":     reason,
	})
}

func (c *Controller) handleStartStream(data []byte) error {
	var params screen.StreamParams
	if len(data) > 0 {
		json.Unmarshal(data, &params)
	}

	c.mu.Lock()
	if c.streamCancel != nil {
		c.streamCancel()
	}
	parent := c.runCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	c.streamCancel = cancel
	c.mu.Unlock()

	slog.Info("starting screen stream", "fps", params.FPS)
	c.deps.Streamer.Run(ctx, params, frameSink{c})
	return nil
}

func (c *Controller) cancelStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamCancel != nil {
		c.streamCancel()
		c.streamCancel = nil
	}
}

// --- input lock ---

func lockResultEvent(class types.DeviceClass, locked bool) string {
	switch {
	case class == types.ClassKeyboard && locked:
		return "keyboard_locked"
	case class == types.ClassKeyboard:
		return "keyboard_unlocked"
	case locked:
		return "mouse_locked"
	default:
		return "mouse_unlocked"
	}
}

func (c *Controller) handleLock(class types.DeviceClass) func([]byte) error {
	return func([]byte) error {
		result, err := c.deps.Locks.Lock(class)
		return c.emitLockResult(lockResultEvent(class, true), result, err)
	}
}

func (c *Controller) handleUnlock(class types.DeviceClass) func([]byte) error {
	return func([]byte) error {
		result, err := c.deps.Locks.Unlock(class)
		return c.emitLockResult(lockResultEvent(class, false), result, err)
	}
}

// emitLockResult reports both outcomes on the same event family: a
// failed attempt still emits the result event with success:false.
func (c *Controller) emitLockResult(event string, result *inputlock.OpResult, err error) error {
	if err != nil {
		return c.deps.Transport.Emit(event, map[string]any{
			"client_id": c.identity.ID(),
			"success":   false,
			"error":     err.Error(),
		})
	}
	return c.deps.Transport.Emit(event, map[string]any{
		"client_id": c.identity.ID(),
		"success":   result.Success,
		"message":   result.Message,
		"details":   result,
	})
}

func (c *Controller) handleInputStatus([]byte) error {
	return c.deps.Transport.Emit("input_status", map[string]any{
		"client_id": c.identity.ID(),
		"status":    c.deps.Locks.Status(),
		"success":   true,
	})
}

func (c *Controller) handleEmergencyUnlock([]byte) error {
	slog.Warn("emergency unlock requested")
	results := c.deps.Locks.EmergencyUnlockAll()
	return c.deps.Transport.Emit("emergency_unlock_complete", map[string]any{
		"client_id": c.identity.ID(),
		"results":   results,
	})
}

func (c *Controller) handleDiagnose([]byte) error {
	diagnosis, err := c.deps.Locks.Diagnose()
	if err != nil {
		return fmt.Errorf("diagnosing input devices: %w", err)
	}
	return c.deps.Transport.Emit("input_devices_diagnosis", map[string]any{
		"client_id": c.identity.ID(),
		"diagnosis": diagnosis,
		"success":   true,
	})
}

// --- file transfer ---

func (c *Controller) handleFileTransferRequest(data []byte) error {
	var req struct {
		Direction string `json:"direction"`
		Filename  string `json:"filename"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parsing transfer request: %w", err)
	}
	if req.Direction != "download" {
		// Uploads arrive as unsolicited file_chunk events.
		return nil
	}

	payload, err := c.deps.Storage.Read(c.identity.ID(), req.Filename)
	if err != nil {
		return fmt.Errorf("reading %s: %w", req.Filename, err)
	}

	chunks := transfer.Split(req.Filename, payload, c.deps.ChunkSize)
	for _, chunk := range chunks {
		if err := c.deps.Transport.Emit("file_chunk", map[string]any{
			"client_id":    c.identity.ID(),
			"filename":     chunk.Filename,
			"chunk_index":  chunk.ChunkIndex,
			"total_chunks": chunk.TotalChunks,
			"data":         chunk.Data,
			"checksum":     chunk.Checksum,
		}); err != nil {
			return fmt.Errorf("sending chunk %d of %s: %w", chunk.ChunkIndex, req.Filename, err)
		}
	}
	slog.Info("file sent", "filename", req.Filename, "chunks", len(chunks))
	return c.deps.Transport.Emit("file_transfer_complete", map[string]any{
		"client_id": c.identity.ID(),
		"filename":  req.Filename,
		"direction": "download",
		"success":   true,
	})
}

func (c *Controller) handleFileChunk(data []byte) error {
	var chunk transfer.Chunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return fmt.Errorf("parsing file chunk: %w", err)
	}

	payload, err := c.deps.Assembler.Add(chunk)
	if err != nil {
		return fmt.Errorf("assembling %s: %w", chunk.Filename, err)
	}
	if payload == nil {
		return nil
	}

	path, err := c.deps.Storage.Save(c.identity.ID(), chunk.Filename, payload)
	if err != nil {
		return fmt.Errorf("saving %s: %w", chunk.Filename, err)
	}
	slog.Info("file received", "filename", chunk.Filename, "path", path)
	return c.deps.Transport.Emit("file_transfer_complete", map[string]any{
		"client_id": c.identity.ID(),
		"filename":  chunk.Filename,
		"success":   true,
	})
}

// --- chat ---

func (c *Controller) handleChatMessage(data []byte) error {
	var msg struct {
		Message   string `json:"message"`
		From      string `json:"from"`
		Timestamp string `json:"timestamp"`
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("parsing chat message: %w", err)
	}
	if msg.From == "" {
		msg.From = coordinatorUser
	}

	saved := c.deps.Chats.Save(msg.From, c.identity.ID(), msg.Message, types.KindText)
	c.deps.Chats.MarkRead(msg.From, c.identity.ID(), saved.ID)

	return c.deps.Transport.Emit("message_read", map[string]any{
		"client_id":  c.identity.ID(),
		"message_id": msg.MessageID,
	})
}

// SendMessage emits an operator-initiated message to the coordinator
// and records it in the local conversation.
func (c *Controller) SendMessage(body string) error {
	c.deps.Chats.Save(c.identity.ID(), coordinatorUser, body, types.KindText)
	return c.deps.Transport.Emit("client_message", map[string]any{
		"message":   body,
		"timestamp": time.Now().Format(time.RFC3339),
		"client_id": c.identity.ID(),
	})
}

// --- telemetry / power ---

func (c *Controller) handleSystemInfo([]byte) error {
	stats, err := sysinfo.Collect()
	if err != nil {
		return fmt.Errorf("collecting system info: %w", err)
	}
	return c.deps.Transport.Emit("system_info_response", map[string]any{
		"client_id": c.identity.ID(),
		"stats":     stats,
	})
}

// ReportTelemetry pushes an unsolicited system-stats report. It is
// called on a schedule, not by an inbound command.
func (c *Controller) ReportTelemetry() error {
	return c.handleSystemInfo(nil)
}

func (c *Controller) handleShutdown(data []byte) error {
	var req struct {
		Force bool `json:"force"`
	}
	if len(data) > 0 {
		json.Unmarshal(data, &req)
	}
	slog.Warn("shutdown requested", "force", req.Force)
	if err := c.deps.Transport.Emit("pc_shutting_down", map[string]any{
		"client_id": c.identity.ID(),
	}); err != nil {
		slog.Error("failed to announce shutdown", "error", err)
	}
	return c.deps.Power.Shutdown(req.Force)
}

func (c *Controller) handleRestart(data []byte) error {
	var req struct {
		Force bool `json:"force"`
	}
	if len(data) > 0 {
		json.Unmarshal(data, &req)
	}
	slog.Warn("restart requested", "force", req.Force)
	if err := c.deps.Transport.Emit("pc_restarting", map[string]any{
		"client_id": c.identity.ID(),
	}); err != nil {
		slog.Error("failed to announce restart", "error", err)
	}
	return c.deps.Power.Restart(req.Force)
}

// --- web restrictions ---

func (c *Controller) handleBlockWebsite(data []byte) error {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parsing block request: %w", err)
	}
	err := c.deps.Filter.Block(req.URL)
	payload := map[string]any{
		"client_id": c.identity.ID(),
		"url":       req.URL,
		"success":   err == nil,
	}
	if err != nil {
		payload["message"] = err.Error()
	} else {
		payload["message"] = "website blocked"
	}
	return c.deps.Transport.Emit("website_blocked", payload)
}

func (c *Controller) handleUnblockWebsite(data []byte) error {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parsing unblock request: %w", err)
	}
	err := c.deps.Filter.Unblock(req.URL)
	payload := map[string]any{
		"client_id": c.identity.ID(),
		"url":       req.URL,
		"success":   err == nil,
	}
	if err != nil {
		payload["message"] = err.Error()
	} else {
		payload["message"] = "website unblocked"
	}
	return c.deps.Transport.Emit("website_unblocked", payload)
}

// --- network control ---

func (c *Controller) handleSetPingStatus(data []byte) error {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parsing ping status request: %w", err)
	}

	var err error
	if req.Enabled {
		err = c.deps.Firewall.EnablePing()
	} else {
		err = c.deps.Firewall.DisablePing()
	}
	payload := map[string]any{
		"client_id": c.identity.ID(),
		"enabled":   req.Enabled,
		"success":   err == nil,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	return c.deps.Transport.Emit("ping_status_changed", payload)
}

func (c *Controller) handlePingTest(data []byte) error {
	var req struct {
		Host    string  `json:"host"`
		Count   int     `json:"count"`
		Timeout float64 `json:"timeout"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parsing ping test request: %w", err)
	}
	if req.Host == "" {
		return fmt.Errorf("ping test without host")
	}

	timeout := time.Duration(req.Timeout * float64(time.Second))
	report := netcontrol.TestPing(c.deps.Prober, req.Host, req.Count, timeout)
	return c.deps.Transport.Emit("ping_test_result", map[string]any{
		"client_id": c.identity.ID(),
		"result":    report,
	})
}

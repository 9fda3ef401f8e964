package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/hallmonitor/internal/chat"
	"github.com/user/hallmonitor/internal/inputlock"
	"github.com/user/hallmonitor/internal/screen"
	"github.com/user/hallmonitor/internal/transfer"
	"github.com/user/hallmonitor/internal/types"
	"github.com/user/hallmonitor/internal/webfilter"
)

type emittedEvent struct {
	event   string
	payload map[string]any
}

type fakeTransport struct {
	mu      sync.Mutex
	emitted []emittedEvent
	failOn  string

	onEvent      func(string, []byte)
	onConnect    func()
	onDisconnect func()
}

func (f *fakeTransport) Emit(event string, payload any) error {
	if f.failOn == event {
		return errors.New("transport down")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var m map[string]any
	json.Unmarshal(data, &m)

	f.mu.Lock()
	f.emitted = append(f.emitted, emittedEvent{event, m})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) OnEvent(fn func(string, []byte)) { f.onEvent = fn }
func (f *fakeTransport) OnConnect(fn func())             { f.onConnect = fn }
func (f *fakeTransport) OnDisconnect(fn func())          { f.onDisconnect = fn }
func (f *fakeTransport) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) events(name string) []emittedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emittedEvent
	for _, e := range f.emitted {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emitted)
}

type fakeLocker struct {
	locked  map[types.DeviceClass]bool
	lockErr error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{locked: make(map[types.DeviceClass]bool)}
}

func (l *fakeLocker) Lock(class types.DeviceClass) (*inputlock.OpResult, error) {
	if l.lockErr != nil {
		return nil, l.lockErr
	}
	l.locked[class] = true
	return &inputlock.OpResult{Success: true, Message: "locked", Method: "fake"}, nil
}

func (l *fakeLocker) Unlock(class types.DeviceClass) (*inputlock.OpResult, error) {
	l.locked[class] = false
	return &inputlock.OpResult{Success: true, Message: "unlocked"}, nil
}

func (l *fakeLocker) Status() inputlock.Status {
	return inputlock.Status{
		KeyboardLocked: l.locked[types.ClassKeyboard],
		MouseLocked:    l.locked[types.ClassMouse],
	}
}

func (l *fakeLocker) EmergencyUnlockAll() map[string]inputlock.OpResult {
	l.locked = make(map[types.DeviceClass]bool)
	return map[string]inputlock.OpResult{
		"keyboard": {Success: true},
		"mouse":    {Success: true},
	}
}

func (l *fakeLocker) Diagnose() (*inputlock.Diagnosis, error) {
	return &inputlock.Diagnosis{}, nil
}

type fakeSwitch struct {
	enabled []bool
}

func (s *fakeSwitch) EnablePing() error  { s.enabled = append(s.enabled, true); return nil }
func (s *fakeSwitch) DisablePing() error { s.enabled = append(s.enabled, false); return nil }

type fakePower struct {
	shutdowns, restarts int
}

func (p *fakePower) Shutdown(bool) error { p.shutdowns++; return nil }
func (p *fakePower) Restart(bool) error  { p.restarts++; return nil }

type fakeProber struct{}

func (fakeProber) Probe(string, time.Duration) (time.Duration, error) {
	return 10 * time.Millisecond, nil
}

type stubCapturer struct{}

func (stubCapturer) Capture() (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(0, 0, color.White)
	return img, nil
}

type harness struct {
	transport *fakeTransport
	locker    *fakeLocker
	fw        *fakeSwitch
	power     *fakePower
	chats     *chat.Store
	storage   *transfer.Storage
	ctrl      *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hostsPath := filepath.Join(t.TempDir(), "hosts")
	os.WriteFile(hostsPath, []byte("127.0.0.1\tlocalhost\n"), 0644)

	h := &harness{
		transport: &fakeTransport{},
		locker:    newFakeLocker(),
		fw:        &fakeSwitch{},
		power:     &fakePower{},
		chats:     chat.NewStore(50),
		storage:   transfer.NewStorage(t.TempDir()),
	}
	h.ctrl = NewController(Deps{
		Transport: h.transport,
		Locks:     h.locker,
		Chats:     h.chats,
		Assembler: transfer.NewAssembler(time.Minute),
		Storage:   h.storage,
		Streamer:  screen.NewStreamer(stubCapturer{}),
		Filter:    webfilter.New(hostsPath),
		Firewall:  h.fw,
		Prober:    fakeProber{},
		Power:     h.power,
		ChunkSize: 1024,
	}, 2)
	return h
}

func (h *harness) dispatch(event string, payload any) {
	data, _ := json.Marshal(payload)
	h.ctrl.Dispatch(event, data)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUnknownCommandDropped(t *testing.T) {
	h := newHarness(t)
	h.dispatch("format_disk", map[string]any{})
	if n := h.transport.count(); n != 0 {
		t.Errorf("expected no emits for unknown command, got %d", n)
	}
}

func TestLockKeyboardEmitsResult(t *testing.T) {
	h := newHarness(t)
	h.dispatch("lock_keyboard", nil)

	events := h.transport.events("keyboard_locked")
	if len(events) != 1 {
		t.Fatalf("expected 1 keyboard_locked event, got %d", len(events))
	}
	payload := events[0].payload
	if payload["success"] != true {
		t.Errorf("expected success, got %v", payload)
	}
	if payload["client_id"] != h.ctrl.ClientID() {
		t.Errorf("missing client_id in %v", payload)
	}
	if !h.locker.locked[types.ClassKeyboard] {
		t.Error("locker never invoked")
	}
}

func TestLockFailureStillEmitsResultEvent(t *testing.T) {
	h := newHarness(t)
	h.locker.lockErr = inputlock.ErrNoDevices

	h.dispatch("lock_mouse", nil)

	events := h.transport.events("mouse_locked")
	if len(events) != 1 {
		t.Fatalf("expected mouse_locked even on failure, got %d events", len(events))
	}
	payload := events[0].payload
	if payload["success"] != false {
		t.Errorf("expected success:false, got %v", payload)
	}
	if payload["error"] == "" {
		t.Error("expected error message")
	}
}

func TestInputStatus(t *testing.T) {
	h := newHarness(t)
	h.dispatch("lock_keyboard", nil)
	h.dispatch("get_input_status", nil)

	events := h.transport.events("input_status")
	if len(events) != 1 {
		t.Fatalf("expected input_status, got %d events", len(events))
	}
	status := events[0].payload["status"].(map[string]any)
	if status["keyboard_locked"] != true || status["mouse_locked"] != false {
		t.Errorf("unexpected status: %v", status)
	}
}

func TestEmergencyUnlock(t *testing.T) {
	h := newHarness(t)
	h.dispatch("lock_keyboard", nil)
	h.dispatch("emergency_unlock_all", nil)

	events := h.transport.events("emergency_unlock_complete")
	if len(events) != 1 {
		t.Fatalf("expected emergency_unlock_complete, got %d events", len(events))
	}
	results := events[0].payload["results"].(map[string]any)
	if _, ok := results["keyboard"]; !ok {
		t.Errorf("expected per-class results, got %v", results)
	}
	if h.locker.locked[types.ClassKeyboard] {
		t.Error("keyboard still locked after emergency unlock")
	}
}

func TestMalformedPayloadReportsFailureOnResultEvent(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Dispatch("chat_message", []byte("{not json"))

	events := h.transport.events("message_read")
	if len(events) != 1 {
		t.Fatalf("expected failure on message_read, got %d events", len(events))
	}
	payload := events[0].payload
	if payload["success"] != false || payload["error"] == nil {
		t.Errorf("expected success:false with error, got %v", payload)
	}
}

func TestChatMessageStoredAndAcknowledged(t *testing.T) {
	h := newHarness(t)
	h.dispatch("chat_message", map[string]any{
		"message":    "do your homework",
		"from":       "teacher1",
		"message_id": "msg-42",
	})

	events := h.transport.events("message_read")
	if len(events) != 1 {
		t.Fatalf("expected message_read, got %d events", len(events))
	}
	if events[0].payload["message_id"] != "msg-42" {
		t.Errorf("ack should carry the inbound message id: %v", events[0].payload)
	}

	history := h.chats.History("teacher1", h.ctrl.ClientID(), 0)
	if len(history) != 1 || history[0].Body != "do your homework" {
		t.Errorf("message not stored: %v", history)
	}
	if !history[0].Read {
		t.Error("inbound message should be marked read")
	}
}

func TestSendMessage(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.SendMessage("done with the essay"); err != nil {
		t.Fatal(err)
	}

	events := h.transport.events("client_message")
	if len(events) != 1 {
		t.Fatalf("expected client_message, got %d events", len(events))
	}
	if events[0].payload["message"] != "done with the essay" {
		t.Errorf("unexpected payload: %v", events[0].payload)
	}
	history := h.chats.History(h.ctrl.ClientID(), "server", 0)
	if len(history) != 1 {
		t.Errorf("outbound message not stored, history=%v", history)
	}
}

func TestFileChunkAssemblyAndSave(t *testing.T) {
	h := newHarness(t)
	payload := []byte(strings.Repeat("homework ", 300))
	chunks := transfer.Split("essay.txt", payload, 512)

	for _, chunk := range chunks {
		h.dispatch("file_chunk", chunk)
	}

	events := h.transport.events("file_transfer_complete")
	if len(events) != 1 {
		t.Fatalf("expected file_transfer_complete, got %d events", len(events))
	}
	if events[0].payload["filename"] != "essay.txt" {
		t.Errorf("unexpected payload: %v", events[0].payload)
	}

	saved, err := h.storage.Read(h.ctrl.ClientID(), "essay.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(saved) != string(payload) {
		t.Error("saved file differs from sent payload")
	}
}

func TestFileTransferDownload(t *testing.T) {
	h := newHarness(t)
	payload := []byte(strings.Repeat("x", 2500))
	if _, err := h.storage.Save(h.ctrl.ClientID(), "report.pdf", payload); err != nil {
		t.Fatal(err)
	}

	h.dispatch("request_file_transfer", map[string]any{
		"direction": "download",
		"filename":  "report.pdf",
	})

	chunkEvents := h.transport.events("file_chunk")
	if len(chunkEvents) != 3 {
		t.Fatalf("expected 3 chunks for 2500 bytes at 1024, got %d", len(chunkEvents))
	}
	for i, e := range chunkEvents {
		if int(e.payload["chunk_index"].(float64)) != i {
			t.Errorf("chunk %d out of order: %v", i, e.payload["chunk_index"])
		}
		if _, err := base64.StdEncoding.DecodeString(e.payload["data"].(string)); err != nil {
			t.Errorf("chunk %d not base64: %v", i, err)
		}
	}
	complete := h.transport.events("file_transfer_complete")
	if len(complete) != 1 {
		t.Fatalf("expected file_transfer_complete after chunks, got %d", len(complete))
	}
}

func TestFileTransferMissingFile(t *testing.T) {
	h := newHarness(t)
	h.dispatch("request_file_transfer", map[string]any{
		"direction": "download",
		"filename":  "nope.txt",
	})

	events := h.transport.events("file_transfer_complete")
	if len(events) != 1 {
		t.Fatalf("expected failure on file_transfer_complete, got %d events", len(events))
	}
	if events[0].payload["success"] != false {
		t.Errorf("expected success:false, got %v", events[0].payload)
	}
}

func TestScreenshot(t *testing.T) {
	h := newHarness(t)
	h.dispatch("request_screenshot", map[string]any{"quality": 70, "scale": 1.0})

	events := h.transport.events("screenshot_data")
	if len(events) != 1 {
		t.Fatalf("expected screenshot_data, got %d events", len(events))
	}
	shot := events[0].payload["screenshot"].(string)
	raw, err := base64.StdEncoding.DecodeString(shot)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) < 2 || raw[0] != 0xFF || raw[1] != 0xD8 {
		t.Error("screenshot is not a JPEG")
	}
}

func TestScreenStreamRunsUntilDisconnect(t *testing.T) {
	h := newHarness(t)
	h.dispatch("start_screen_stream", map[string]any{"fps": 50, "quality": 30, "scale": 1.0})

	waitFor(t, func() bool {
		return len(h.transport.events("screen_frame")) >= 2
	}, "stream never produced frames")

	h.ctrl.handleDisconnect()

	// After cancellation the frame count settles.
	time.Sleep(100 * time.Millisecond)
	n := len(h.transport.events("screen_frame"))
	time.Sleep(100 * time.Millisecond)
	if m := len(h.transport.events("screen_frame")); m != n {
		t.Errorf("stream kept producing frames after disconnect (%d -> %d)", n, m)
	}
	if len(h.transport.events("screen_stream_ended")) != 0 {
		t.Error("cancellation should not emit a terminal stream event")
	}
}

func TestStreamEndsWithTerminalEventOnSendFailure(t *testing.T) {
	h := newHarness(t)
	h.transport.failOn = "screen_frame"

	h.dispatch("start_screen_stream", map[string]any{"fps": 50})

	waitFor(t, func() bool {
		return len(h.transport.events("screen_stream_ended")) == 1
	}, "terminal stream event never emitted")
}

func TestSetPingStatus(t *testing.T) {
	h := newHarness(t)
	h.dispatch("set_ping_status", map[string]any{"enabled": false})
	h.dispatch("set_ping_status", map[string]any{"enabled": true})

	if len(h.fw.enabled) != 2 || h.fw.enabled[0] != false || h.fw.enabled[1] != true {
		t.Errorf("firewall calls: %v", h.fw.enabled)
	}
	events := h.transport.events("ping_status_changed")
	if len(events) != 2 {
		t.Fatalf("expected 2 ping_status_changed events, got %d", len(events))
	}
	if events[0].payload["enabled"] != false || events[1].payload["enabled"] != true {
		t.Errorf("unexpected payloads: %v", events)
	}
}

func TestPingTest(t *testing.T) {
	h := newHarness(t)
	h.dispatch("ping_test", map[string]any{"host": "8.8.8.8", "count": 3})

	events := h.transport.events("ping_test_result")
	if len(events) != 1 {
		t.Fatalf("expected ping_test_result, got %d events", len(events))
	}
	result := events[0].payload["result"].(map[string]any)
	stats := result["statistics"].(map[string]any)
	if stats["packets_received"].(float64) != 3 {
		t.Errorf("expected 3 received, got %v", stats)
	}
}

func TestBlockWebsite(t *testing.T) {
	h := newHarness(t)
	h.dispatch("block_website", map[string]any{"url": "https://www.games.example"})

	events := h.transport.events("website_blocked")
	if len(events) != 1 {
		t.Fatalf("expected website_blocked, got %d events", len(events))
	}
	if events[0].payload["success"] != true {
		t.Errorf("expected success, got %v", events[0].payload)
	}

	h.dispatch("unblock_website", map[string]any{"url": "games.example"})
	unblocked := h.transport.events("website_unblocked")
	if len(unblocked) != 1 || unblocked[0].payload["success"] != true {
		t.Errorf("unblock failed: %v", unblocked)
	}
}

func TestShutdownAnnouncesFirst(t *testing.T) {
	h := newHarness(t)
	h.dispatch("shutdown_pc", map[string]any{"force": true})

	if len(h.transport.events("pc_shutting_down")) != 1 {
		t.Error("expected pc_shutting_down announcement")
	}
	if h.power.shutdowns != 1 {
		t.Errorf("expected 1 shutdown, got %d", h.power.shutdowns)
	}

	h.dispatch("restart_pc", nil)
	if len(h.transport.events("pc_restarting")) != 1 || h.power.restarts != 1 {
		t.Error("restart not executed")
	}
}

func TestConnectRegistersClient(t *testing.T) {
	h := newHarness(t)
	h.ctrl.handleConnect()

	events := h.transport.events("register_client")
	if len(events) != 1 {
		t.Fatalf("expected register_client, got %d events", len(events))
	}
	payload := events[0].payload
	for _, field := range []string{"name", "ip", "os", "user", "connected_at"} {
		if _, ok := payload[field]; !ok {
			t.Errorf("registration missing %q: %v", field, payload)
		}
	}
	if !h.chats.IsOnline("server") {
		t.Error("coordinator should be marked online after connect")
	}

	h.ctrl.handleDisconnect()
	if h.chats.IsOnline("server") {
		t.Error("coordinator should be offline after disconnect")
	}
}

func TestSystemInfoResponse(t *testing.T) {
	h := newHarness(t)
	h.dispatch("request_system_info", nil)

	// Either a stats payload or a converted failure, never silence.
	stats := h.transport.events("system_info_response")
	if len(stats) != 1 {
		t.Fatalf("expected system_info_response, got %d events", len(stats))
	}
}

func TestClientIDStable(t *testing.T) {
	h := newHarness(t)
	first := h.ctrl.ClientID()
	if first == "" {
		t.Fatal("empty client id")
	}
	if !strings.Contains(first, "_") {
		t.Errorf("expected hostname_suffix form, got %q", first)
	}
	if second := h.ctrl.ClientID(); second != first {
		t.Errorf("client id changed between calls: %q vs %q", first, second)
	}
}

// Package relay maintains the device relay connection: a single reconnecting
// WebSocket to the relay server, the pairing/registration handshake, and the
// bidirectional message dispatch that bridges a paired remote device to the
// local session registry.
package relay

import (
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates every wire message.
type MessageType string

const (
	TypeRegisterDesktop        MessageType = "register_desktop"
	TypeDeviceList             MessageType = "device_list"
	TypeRequestStatus          MessageType = "request_status"
	TypeStatusUpdate           MessageType = "status_update"
	TypeCommand                MessageType = "command"
	TypeCommandResponse        MessageType = "command_response"
	TypeTerminalInput          MessageType = "terminal_input"
	TypeTerminalOutput         MessageType = "terminal_output"
	TypeAttachTerminal         MessageType = "attach_terminal"
	TypeAttachTerminalResponse MessageType = "attach_terminal_response"
	TypeDetachTerminal         MessageType = "detach_terminal"
	TypeKillTerminal           MessageType = "kill_terminal"
	TypeSelectProject          MessageType = "select_project"
	TypeProjectChanged         MessageType = "project_changed"
	TypeGitFilesChanged        MessageType = "git_files_changed"
	TypeError                  MessageType = "error"
)

// LinkedDevice is a remote device the relay has paired with this desktop.
type LinkedDevice struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DeviceType string `json:"device_type"`
	PairedAt   string `json:"paired_at"`
}

type ProjectFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

type ProjectInfo struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Path       string          `json:"path"`
	LastOpened string          `json:"lastOpened"`
	Folders    []ProjectFolder `json:"folders,omitempty"`
}

type TerminalInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Cwd   string `json:"cwd"`
	Type  string `json:"type"`
}

// Message is the wire envelope. Every kind shares this shape; unused fields
// are omitted. Unrecognized types decode with Type set and everything else
// zero, which dispatch treats as a forward-compatible no-op.
type Message struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`

	// register_desktop
	DeviceID          string `json:"deviceId,omitempty"`
	DeviceName        string `json:"deviceName,omitempty"`
	PairingCode       string `json:"pairingCode,omitempty"`
	PairingPassphrase string `json:"pairingPassphrase,omitempty"`

	// device_list
	Devices []LinkedDevice `json:"devices,omitempty"`

	// status_update
	ConnectionStatus string         `json:"connectionStatus,omitempty"`
	Projects         []ProjectInfo  `json:"projects,omitempty"`
	ActiveProjectID  string         `json:"activeProjectId,omitempty"`
	Terminals        []TerminalInfo `json:"terminals,omitempty"`
	Theme            string         `json:"theme,omitempty"`

	// command / command_response
	Command   string `json:"command,omitempty"`
	Params    any    `json:"params,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Success   *bool  `json:"success,omitempty"`
	Result    any    `json:"result,omitempty"`

	// terminal_* family
	TerminalID string `json:"terminalId,omitempty"`
	Data       string `json:"data,omitempty"`

	// select_project / project_changed
	ProjectID string `json:"projectId,omitempty"`

	// git_files_changed
	RepoPath string `json:"repoPath,omitempty"`

	// error (also the error text on response kinds)
	Code  string `json:"code,omitempty"`
	Text  string `json:"message,omitempty"`
	Error string `json:"error,omitempty"`
}

func newID() string {
	return uuid.NewString()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func boolPtr(b bool) *bool { return &b }

func newRegisterDesktop(cfg Config) Message {
	return Message{
		Type:              TypeRegisterDesktop,
		ID:                newID(),
		DeviceID:          cfg.DeviceID,
		DeviceName:        cfg.DeviceName,
		PairingCode:       cfg.PairingCode,
		PairingPassphrase: cfg.PairingPassphrase,
	}
}

// NewStatusUpdate snapshots the host state for a request_status reply.
func NewStatusUpdate(projects []ProjectInfo, activeProjectID string, terminals []TerminalInfo, theme string) Message {
	return Message{
		Type:             TypeStatusUpdate,
		ID:               newID(),
		Timestamp:        nowMillis(),
		ConnectionStatus: "connected",
		Projects:         projects,
		ActiveProjectID:  activeProjectID,
		Terminals:        terminals,
		Theme:            theme,
	}
}

func NewTerminalOutput(terminalID, data string) Message {
	return Message{
		Type:       TypeTerminalOutput,
		ID:         newID(),
		Timestamp:  nowMillis(),
		TerminalID: terminalID,
		Data:       data,
	}
}

func NewAttachResponse(terminalID string, success bool, errText string) Message {
	return Message{
		Type:       TypeAttachTerminalResponse,
		ID:         newID(),
		TerminalID: terminalID,
		Success:    boolPtr(success),
		Error:      errText,
	}
}

func NewProjectChanged(projectID string) Message {
	return Message{
		Type:      TypeProjectChanged,
		ID:        newID(),
		Timestamp: nowMillis(),
		ProjectID: projectID,
	}
}

func NewGitFilesChanged(repoPath string) Message {
	return Message{
		Type:     TypeGitFilesChanged,
		ID:       newID(),
		RepoPath: repoPath,
	}
}

// Package protocol defines the JSON message envelope exchanged over the
// collaboration channel and the file identifiers shared by client and
// server.
package protocol

import (
	"encoding/json"
	"strings"
	"time"
)

// Action tags a message envelope.
type Action string

const (
	ActionJoin          Action = "join"
	ActionJoined        Action = "joined"
	ActionJoinedSelf    Action = "joined-self"
	ActionLeave         Action = "leave"
	ActionDisconnected  Action = "disconnected"
	ActionContentChange Action = "content-change"
	ActionSaved         Action = "saved"
	ActionFileOp        Action = "file-op"
	ActionSyncFiles     Action = "sync-files"
	ActionRequestFile   Action = "request-file"
	ActionPing          Action = "ping"
	ActionPong          Action = "pong"
)

// Envelope is the {action, payload} message unit. Payload stays raw until
// the action is known.
type Envelope struct {
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ClientInfo is one presence entry in a room's client list.
type ClientInfo struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
}

// JoinPayload is sent by a client to enter a room.
type JoinPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	TS       int64  `json:"ts,omitempty"`
}

// PresencePayload carries the updated client list on joined/joined-self.
type PresencePayload struct {
	Clients  []ClientInfo `json:"clients"`
	Username string       `json:"username"`
	SocketID string       `json:"socketId"`
	TS       int64        `json:"ts,omitempty"`
}

// ContentPayload carries file content for content-change and saved.
type ContentPayload struct {
	RoomID   string `json:"roomId,omitempty"`
	FileID   string `json:"fileId"`
	Content  string `json:"content"`
	FilePath string `json:"filePath,omitempty"`
	TS       int64  `json:"ts,omitempty"`
}

// SyncFilesPayload carries a room's full snapshot to a joining client.
type SyncFilesPayload struct {
	Files map[string]string `json:"files"`
	TS    int64             `json:"ts,omitempty"`
}

// DisconnectedPayload announces a departed client to the rest of the room.
type DisconnectedPayload struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
}

// RequestFilePayload asks the server for the latest snapshot content of
// one file.
type RequestFilePayload struct {
	RoomID string `json:"roomId,omitempty"`
	FileID string `json:"fileId"`
	TS     int64  `json:"ts,omitempty"`
}

// FileOp kinds relayed between clients. The server forwards the payload
// verbatim and never interprets these beyond stripping roomId.
const (
	FileOpAddFile      = "add-file"
	FileOpAddFolder    = "add-folder"
	FileOpDeleteFile   = "delete-file"
	FileOpDeleteFolder = "delete-folder"
	FileOpRenameFile   = "rename-file"
	FileOpRenameFolder = "rename-folder"
)

// FileOpPayload describes one file-tree mutation.
type FileOpPayload struct {
	RoomID       string  `json:"roomId,omitempty"`
	Type         string  `json:"type"`
	File         *File   `json:"file,omitempty"`
	Folder       *Folder `json:"folder,omitempty"`
	ParentPath   string  `json:"parentPath"`
	NewName      string  `json:"newName,omitempty"`
	NewExtension string  `json:"newExtension,omitempty"`
	TS           int64   `json:"ts,omitempty"`
}

// NowMillis returns the current time as epoch milliseconds, the unit used
// by payload ts fields.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Marshal builds the wire bytes for an envelope with a typed payload.
func Marshal(action Action, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Action: action, Payload: raw})
}

// FileID derives the stable snapshot key for a file: the slash-joined
// parent path plus "name.ext", with empty segments dropped and no leading
// slash. Client and server must derive identically or content resolution
// silently mismatches.
func FileID(parentPath, name, ext string) string {
	base := name
	if ext != "" {
		base = name + "." + ext
	}

	var parts []string
	for _, seg := range strings.Split(parentPath, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	parts = append(parts, base)
	return strings.Join(parts, "/")
}

// SplitFileID is the inverse of FileID: it returns the parent path, the
// bare file name and the extension.
func SplitFileID(fileID string) (parentPath, name, ext string) {
	var parts []string
	for _, seg := range strings.Split(fileID, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	if len(parts) == 0 {
		return "", "", ""
	}

	base := parts[len(parts)-1]
	parentPath = strings.Join(parts[:len(parts)-1], "/")

	if i := strings.Index(base, "."); i >= 0 {
		return parentPath, base[:i], base[i+1:]
	}
	return parentPath, base, ""
}

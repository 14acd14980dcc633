package session

import (
	"time"

	"github.com/hypercode/collab/internal/protocol"
)

// debounceAllKey groups content changes that carry no file id under a
// single timer.
const debounceAllKey = "__all__"

// BroadcastContentChange schedules a content update for the peers.
// Rapid successive calls for the same file coalesce: only the last
// content within the debounce window is sent. Saves and file ops are
// never debounced.
func (s *Session) BroadcastContentChange(fileID, content, filePath string) {
	key := fileID
	if key == "" {
		key = debounceAllKey
	}

	payload := map[string]any{
		"fileId":  fileID,
		"content": content,
	}
	if filePath != "" {
		payload["filePath"] = filePath
	}
	s.attachRoom(payload)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.debounce[key]; ok {
		prev.Stop()
	}
	s.debounce[key] = time.AfterFunc(s.cfg.DebounceDelay, func() {
		s.mu.Lock()
		delete(s.debounce, key)
		dead := s.closed || s.leaving
		s.mu.Unlock()
		if dead {
			return
		}
		s.metrics.markContentOut()
		s.send(outboundMsg{Action: protocol.ActionContentChange, Payload: payload})
	})
	s.mu.Unlock()
}

// BroadcastSaved announces an explicit save immediately, bypassing the
// debounce window.
func (s *Session) BroadcastSaved(fileID, content, filePath string) {
	payload := map[string]any{
		"fileId":  fileID,
		"content": content,
	}
	if filePath != "" {
		payload["filePath"] = filePath
	}
	s.attachRoom(payload)
	s.send(outboundMsg{Action: protocol.ActionSaved, Payload: payload})
}

// BroadcastFileOp forwards a file tree operation immediately.
func (s *Session) BroadcastFileOp(op protocol.FileOpPayload) {
	payload := map[string]any{
		"type":       op.Type,
		"parentPath": op.ParentPath,
	}
	if op.File != nil {
		payload["file"] = op.File
	}
	if op.Folder != nil {
		payload["folder"] = op.Folder
	}
	if op.NewName != "" {
		payload["newName"] = op.NewName
	}
	if op.NewExtension != "" {
		payload["newExtension"] = op.NewExtension
	}
	s.attachRoom(payload)
	s.send(outboundMsg{Action: protocol.ActionFileOp, Payload: payload})
}

// RequestFile asks the server for its current copy of one file. The
// answer arrives as a content-change addressed to this session only.
func (s *Session) RequestFile(fileID string) {
	payload := map[string]any{"fileId": fileID}
	s.attachRoom(payload)
	s.send(outboundMsg{Action: protocol.ActionRequestFile, Payload: payload})
}

func (s *Session) attachRoom(payload map[string]any) {
	s.mu.Lock()
	if s.roomID != "" {
		payload["roomId"] = s.roomID
	}
	s.mu.Unlock()
}

package protocol

import (
	"encoding/json"
	"errors"
)

// File is a leaf in the shared file tree.
type File struct {
	Filename      string `json:"filename"`
	FileExtension string `json:"fileExtension"`
	Content       string `json:"content,omitempty"`
}

// Folder is an interior node holding files and sub-folders.
type Folder struct {
	FolderName string      `json:"folderName"`
	Items      []TreeEntry `json:"items"`
}

// EntryKind discriminates the two tree entry variants.
type EntryKind int

const (
	EntryFile EntryKind = iota
	EntryFolder
)

// TreeEntry is a tagged union of File and Folder. Exactly one of the two
// pointers is set, indicated by Kind.
type TreeEntry struct {
	Kind   EntryKind
	File   *File
	Folder *Folder
}

var errUnknownTreeEntry = errors.New("protocol: tree entry is neither file nor folder")

// UnmarshalJSON discriminates on the wire keys: folder entries carry
// "folderName", file entries carry "filename".
func (e *TreeEntry) UnmarshalJSON(data []byte) error {
	var probe struct {
		Filename   *string `json:"filename"`
		FolderName *string `json:"folderName"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	switch {
	case probe.FolderName != nil:
		var f Folder
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*e = TreeEntry{Kind: EntryFolder, Folder: &f}
		return nil
	case probe.Filename != nil:
		var f File
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*e = TreeEntry{Kind: EntryFile, File: &f}
		return nil
	default:
		return errUnknownTreeEntry
	}
}

// MarshalJSON emits the underlying variant without a synthetic wrapper so
// the wire shape matches what browser clients produce.
func (e TreeEntry) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EntryFolder:
		return json.Marshal(e.Folder)
	case EntryFile:
		return json.Marshal(e.File)
	default:
		return nil, errUnknownTreeEntry
	}
}

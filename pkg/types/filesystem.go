package types

// EntryInfo represents a file or directory entry in the workspace.
type EntryInfo struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size,omitempty"`
	Path  string `json:"path"`
}

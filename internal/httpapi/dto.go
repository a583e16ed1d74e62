package httpapi

import (
	"github.com/jaewoo-rain/webide-broker/internal/workspace"
)

// treeNode is the wire shape of a FileTree node (spec.md §6): a recursive
// {id, type, children?}.
type treeNode struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Children []treeNode `json:"children,omitempty"`
}

// fileEntry is the wire shape of one FileMap value: {name, type, content?}.
type fileEntry struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

func toDomainTree(n treeNode) *workspace.Node {
	node := &workspace.Node{ID: n.ID, Type: workspace.NodeType(n.Type)}
	for _, child := range n.Children {
		node.Children = append(node.Children, toDomainTree(child))
	}
	return node
}

func toDomainFileMap(m map[string]fileEntry) map[string]workspace.Entry {
	out := make(map[string]workspace.Entry, len(m))
	for id, e := range m {
		out[id] = workspace.Entry{Name: e.Name, Type: workspace.NodeType(e.Type), Content: e.Content}
	}
	return out
}

func fromDomainTree(n *workspace.Node) treeNode {
	out := treeNode{ID: n.ID, Type: string(n.Type)}
	for _, child := range n.Children {
		out.Children = append(out.Children, fromDomainTree(child))
	}
	return out
}

func fromDomainFileMap(m map[string]workspace.Entry) map[string]fileEntry {
	out := make(map[string]fileEntry, len(m))
	for id, e := range m {
		out[id] = fileEntry{Name: e.Name, Type: string(e.Type), Content: e.Content}
	}
	return out
}

// meResponse is GET /me's body.
type meResponse struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// createContainerRequest is POST /containers's body.
type createContainerRequest struct {
	ProjectName string            `json:"projectName"`
	Image       string            `json:"image"`
	Cmd         []string          `json:"cmd"`
	Env         map[string]string `json:"env"`
}

// createContainerResponse is POST /containers's body.
type createContainerResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Image          string `json:"image"`
	Owner          string `json:"owner"`
	Role           string `json:"role"`
	LimitedByQuota bool   `json:"limited_by_quota"`
	ProjectName    string `json:"projectName"`
	VncURL         string `json:"vnc_url"`
	WsURL          string `json:"ws_url"`
	Port           int    `json:"port"`
}

// containerUrlsResponse is GET /containers/{id}/urls's body.
type containerUrlsResponse struct {
	Cid    string `json:"cid"`
	WsURL  string `json:"ws_url"`
	VncURL string `json:"vnc_url"`
}

// renameContainerRequest is PATCH /containers/{id}'s body.
type renameContainerRequest struct {
	ProjectName string `json:"project_name"`
}

// messageResponse wraps the {"message": "..."} shape several endpoints share.
type messageResponse struct {
	Message string `json:"message"`
}

// fileStructureResponse is GET /files/{id}'s body.
type fileStructureResponse struct {
	Tree    treeNode             `json:"tree"`
	FileMap map[string]fileEntry `json:"fileMap"`
}

// codeRequest is the shared body shape for /save and /run.
type codeRequest struct {
	ContainerID    string               `json:"container_id"`
	SessionID      string               `json:"session_id"`
	Tree           treeNode             `json:"tree"`
	FileMap        map[string]fileEntry `json:"fileMap"`
	RunCode        string               `json:"run_code"`
	PurgeWorkspace bool                 `json:"purge_workspace"`
}

// runResponse is POST /run's body.
type runResponse struct {
	Mode string `json:"mode"`
}

// renameFileRequest is PATCH /files/{id}'s body.
type renameFileRequest struct {
	OldPath string `json:"old_path"`
	NewName string `json:"new_name"`
}

// renameFileResponse is PATCH /files/{id}'s body.
type renameFileResponse struct {
	Message string `json:"message"`
	NewPath string `json:"new_path"`
}

// deleteFileRequest is DELETE /files/{id}'s body.
type deleteFileRequest struct {
	FilePath string `json:"file_path"`
}

// Package workspace implements the Workspace Materializer (spec.md §4.8): a
// recursive depth-first pre-order translation of a FileTree + file map into
// shell commands run inside an instance, grounded on
// original_source/app/utils/util.py's create_file.
package workspace

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jaewoo-rain/webide-broker/internal/orchestrator"
)

const fileContentDelimiter = "---FILE-DELIMITER---"

// NodeType distinguishes folder nodes from file nodes in a FileTree.
type NodeType string

const (
	NodeFolder NodeType = "folder"
	NodeFile   NodeType = "file"
)

// Node is one entry in a FileTree: either a folder with children or a leaf
// file. Tree shape mirrors spec.md §3's FileTree; Name/Content live in the
// separate FileMap keyed by Node.ID, exactly as the original payload shape.
type Node struct {
	ID       string
	Type     NodeType
	Children []*Node
}

// Entry is one FileMap record: the display name and, for files, content.
type Entry struct {
	Name    string
	Type    NodeType
	Content string
}

// PurgePolicy controls whether Materialize clears the workspace directory
// before writing the tree (spec.md §9 Open Question, resolved in
// SPEC_FULL.md: an explicit parameter, never hardwired).
type PurgePolicy int

const (
	Preserve PurgePolicy = iota
	Purge
)

// Materializer writes a FileTree into an instance's workspace directory via
// the Orchestrator Adapter's Exec.
type Materializer struct {
	adapter  orchestrator.Adapter
	basePath string
}

// New constructs a Materializer that writes under basePath (spec.md §6's
// WORKSPACE setting) inside whatever instance it's given.
func New(adapter orchestrator.Adapter, basePath string) *Materializer {
	return &Materializer{adapter: adapter, basePath: basePath}
}

// Materialize writes tree/fileMap into instance's workspace, honoring
// policy, and returns the absolute path of the node whose ID equals
// entryID (the "run" or "save" target), or "" if entryID is empty or not
// found.
func (m *Materializer) Materialize(ctx context.Context, instance *orchestrator.Instance, tree *Node, fileMap map[string]Entry, entryID string, policy PurgePolicy) (string, error) {
	if policy == Purge {
		if _, err := m.adapter.Exec(ctx, instance, []string{"bash", "-c", fmt.Sprintf("rm -rf %s && mkdir -p %s", shellQuote(m.basePath), shellQuote(m.basePath))}, orchestrator.ExecOptions{}); err != nil {
			return "", fmt.Errorf("workspace: purge: %w", err)
		}
	} else {
		if _, err := m.adapter.Exec(ctx, instance, []string{"mkdir", "-p", m.basePath}, orchestrator.ExecOptions{}); err != nil {
			return "", fmt.Errorf("workspace: ensure base path: %w", err)
		}
	}

	entryPath, err := m.write(ctx, instance, tree, fileMap, entryID, nil)
	if err != nil {
		return "", err
	}
	return entryPath, nil
}

// write performs the depth-first pre-order walk. path accumulates the
// folder name stack; it never includes the root (an empty-named folder).
func (m *Materializer) write(ctx context.Context, instance *orchestrator.Instance, node *Node, fileMap map[string]Entry, entryID string, path []string) (string, error) {
	entry, ok := fileMap[node.ID]
	if !ok {
		return "", fmt.Errorf("workspace: no fileMap entry for node %s", node.ID)
	}

	var result string

	switch node.Type {
	case NodeFolder:
		nextPath := path
		if entry.Name != "" {
			nextPath = append(append([]string{}, path...), entry.Name)
			fullPath := m.basePath + "/" + strings.Join(nextPath, "/")
			if _, err := m.adapter.Exec(ctx, instance, []string{"mkdir", "-p", fullPath}, orchestrator.ExecOptions{}); err != nil {
				return "", fmt.Errorf("workspace: mkdir %s: %w", fullPath, err)
			}
		}
		for _, child := range node.Children {
			sub, err := m.write(ctx, instance, child, fileMap, entryID, nextPath)
			if err != nil {
				return "", err
			}
			if sub != "" {
				result = sub
			}
		}

	case NodeFile:
		fullPath := m.basePath + "/" + strings.Join(append(append([]string{}, path...), entry.Name), "/")
		if node.ID == entryID {
			result = fullPath
		}
		escaped := strings.ReplaceAll(entry.Content, "'", `'"'"'`)
		cmd := fmt.Sprintf("echo '%s' > '%s'", escaped, fullPath)
		if _, err := m.adapter.Exec(ctx, instance, []string{"bash", "-c", cmd}, orchestrator.ExecOptions{}); err != nil {
			return "", fmt.Errorf("workspace: write %s: %w", fullPath, err)
		}
	}

	return result, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Scan reads the current on-disk contents of instance's workspace directory
// and rebuilds it as a FileTree + FileMap (spec.md §6's GET /files/{id}),
// grounded on original_source/app/main.py's get_files: one `find -print0`
// for every path, one `find -type f -print0` to classify files, and a
// single batched `cat` (delimiter-joined) for every file's content.
func (m *Materializer) Scan(ctx context.Context, instance *orchestrator.Instance) (*Node, map[string]Entry, error) {
	allOut, err := m.adapter.Exec(ctx, instance, []string{"bash", "-c", fmt.Sprintf("find %s -print0", shellQuote(m.basePath))}, orchestrator.ExecOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("workspace: scan: find: %w", err)
	}

	root := &Node{ID: "root", Type: NodeFolder}
	fileMap := map[string]Entry{"root": {Name: "", Type: NodeFolder}}

	paths := splitNonEmpty(allOut.Stdout)
	if len(paths) == 0 {
		return root, fileMap, nil
	}

	filesOut, err := m.adapter.Exec(ctx, instance, []string{"bash", "-c", fmt.Sprintf("find %s -type f -print0", shellQuote(m.basePath))}, orchestrator.ExecOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("workspace: scan: find -type f: %w", err)
	}
	fileSet := map[string]bool{}
	for _, p := range splitNonEmpty(filesOut.Stdout) {
		fileSet[p] = true
	}

	contents := map[string]string{}
	if len(fileSet) > 0 {
		quoted := make([]string, 0, len(fileSet))
		var ordered []string
		for p := range fileSet {
			ordered = append(ordered, p)
		}
		sort.Strings(ordered)
		for _, p := range ordered {
			quoted = append(quoted, shellQuote(p))
		}
		cmd := fmt.Sprintf(`for f in %s; do cat "$f"; echo "%s"; done`, strings.Join(quoted, " "), fileContentDelimiter)
		contentOut, err := m.adapter.Exec(ctx, instance, []string{"bash", "-c", cmd}, orchestrator.ExecOptions{})
		if err != nil {
			return nil, nil, fmt.Errorf("workspace: scan: cat: %w", err)
		}
		parts := strings.Split(contentOut.Stdout, fileContentDelimiter)
		for i, p := range ordered {
			if i < len(parts) {
				contents[p] = strings.TrimSpace(parts[i])
			}
		}
	}

	sort.Strings(paths)
	nodesByPath := map[string]*Node{m.basePath: root}
	for _, p := range paths {
		if p == m.basePath {
			continue
		}
		parentPath := path.Dir(p)
		parent, ok := nodesByPath[parentPath]
		if !ok {
			parent = root
		}

		id := uuid.New().String()
		isFile := fileSet[p]
		nodeType := NodeFolder
		if isFile {
			nodeType = NodeFile
		}
		node := &Node{ID: id, Type: nodeType}
		nodesByPath[p] = node
		parent.Children = append(parent.Children, node)

		fileMap[id] = Entry{Name: path.Base(p), Type: nodeType, Content: contents[p]}
	}

	return root, fileMap, nil
}

func splitNonEmpty(blob string) []string {
	raw := strings.Split(blob, "\x00")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

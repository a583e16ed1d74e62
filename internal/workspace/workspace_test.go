package workspace

import (
	"context"
	"testing"

	"github.com/jaewoo-rain/webide-broker/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTree() (*Node, map[string]Entry) {
	mainFile := &Node{ID: "n2", Type: NodeFile}
	srcFolder := &Node{ID: "n1", Type: NodeFolder, Children: []*Node{mainFile}}
	root := &Node{ID: "root", Type: NodeFolder, Children: []*Node{srcFolder}}

	fileMap := map[string]Entry{
		"root": {Name: "", Type: NodeFolder},
		"n1":   {Name: "src", Type: NodeFolder},
		"n2":   {Name: "main.py", Type: NodeFile, Content: "print('it''s fine')"},
	}
	return root, fileMap
}

func TestMaterializer_Materialize_WritesEntryPath(t *testing.T) {
	fake := orchestrator.NewFakeAdapter()
	m := New(fake, "/opt/workspace")
	tree, fileMap := buildTree()

	inst, err := fake.Create(context.Background(), "inst-1", "img", nil, nil)
	require.NoError(t, err)

	entryPath, err := m.Materialize(context.Background(), inst, tree, fileMap, "n2", Preserve)
	require.NoError(t, err)
	assert.Equal(t, "/opt/workspace/src/main.py", entryPath)
}

func TestMaterializer_Materialize_NoEntryMatch(t *testing.T) {
	fake := orchestrator.NewFakeAdapter()
	m := New(fake, "/opt/workspace")
	tree, fileMap := buildTree()

	inst, err := fake.Create(context.Background(), "inst-1", "img", nil, nil)
	require.NoError(t, err)

	entryPath, err := m.Materialize(context.Background(), inst, tree, fileMap, "", Preserve)
	require.NoError(t, err)
	assert.Equal(t, "", entryPath)
}

func TestMaterializer_Materialize_PurgePolicy(t *testing.T) {
	fake := orchestrator.NewFakeAdapter()
	m := New(fake, "/opt/workspace")
	tree, fileMap := buildTree()

	inst, err := fake.Create(context.Background(), "inst-1", "img", nil, nil)
	require.NoError(t, err)

	_, err = m.Materialize(context.Background(), inst, tree, fileMap, "", Purge)
	require.NoError(t, err)
}

func TestMaterializer_Scan_RebuildsTreeAndContent(t *testing.T) {
	fake := orchestrator.NewFakeAdapter()
	m := New(fake, "/opt/workspace")

	inst, err := fake.Create(context.Background(), "inst-1", "img", nil, nil)
	require.NoError(t, err)

	fake.SetExecOutput("bash -c find '/opt/workspace' -print0",
		&orchestrator.ExecResult{Stdout: "/opt/workspace/src\x00/opt/workspace/src/main.py\x00"})
	fake.SetExecOutput("bash -c find '/opt/workspace' -type f -print0",
		&orchestrator.ExecResult{Stdout: "/opt/workspace/src/main.py\x00"})
	fake.SetExecOutput(`bash -c for f in '/opt/workspace/src/main.py'; do cat "$f"; echo "---FILE-DELIMITER---"; done`,
		&orchestrator.ExecResult{Stdout: "print(1)\n---FILE-DELIMITER---"})

	tree, fileMap, err := m.Scan(context.Background(), inst)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)

	srcNode := tree.Children[0]
	assert.Equal(t, NodeFolder, srcNode.Type)
	assert.Equal(t, "src", fileMap[srcNode.ID].Name)
	require.Len(t, srcNode.Children, 1)

	fileNode := srcNode.Children[0]
	assert.Equal(t, NodeFile, fileNode.Type)
	assert.Equal(t, "main.py", fileMap[fileNode.ID].Name)
	assert.Equal(t, "print(1)", fileMap[fileNode.ID].Content)
}

func TestMaterializer_Scan_EmptyWorkspace(t *testing.T) {
	fake := orchestrator.NewFakeAdapter()
	m := New(fake, "/opt/workspace")

	inst, err := fake.Create(context.Background(), "inst-1", "img", nil, nil)
	require.NoError(t, err)

	tree, fileMap, err := m.Scan(context.Background(), inst)
	require.NoError(t, err)
	assert.Empty(t, tree.Children)
	assert.Equal(t, Entry{Name: "", Type: NodeFolder}, fileMap["root"])
}

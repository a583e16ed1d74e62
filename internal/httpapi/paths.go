package httpapi

import (
	"path"
	"strings"

	"github.com/jaewoo-rain/webide-broker/internal/orchestrator"
)

// renamedPath computes the sibling path to oldPath named newName, mirroring
// original_source/app/main.py's rename_file (old_path's parent / new_name).
func renamedPath(oldPath, newName string) string {
	return path.Join(path.Dir(oldPath), newName)
}

func containsSlash(s string) bool {
	return strings.Contains(s, "/")
}

func execOptionsDefault() orchestrator.ExecOptions {
	return orchestrator.ExecOptions{}
}

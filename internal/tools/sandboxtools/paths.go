package sandboxtools

import (
	"fmt"
	"path"
	"strings"
)

// NormalizePath maps a path as written by an agent to the key used in
// NetworkState.Files and in the sandbox workspace.
//
//	"./src/app.py"            → "src/app.py"
//	"/home/user/src/app.py"   → "src/app.py"
//	"/src/app.py"             → "src/app.py"
//	"src//lib/../app.py"      → "src/app.py"
//
// Case is preserved: "App.py" and "app.py" are distinct files.
func NormalizePath(workspaceRoot, p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", fmt.Errorf("empty path")
	}

	p = path.Clean(p)
	root := path.Clean("/" + strings.Trim(workspaceRoot, "/"))
	if root != "/" && (p == root || strings.HasPrefix(p, root+"/")) {
		p = strings.TrimPrefix(p, root)
	}
	p = path.Clean(strings.TrimLeft(p, "/"))

	switch {
	case p == "." || p == "":
		return "", fmt.Errorf("path %q names the workspace itself", p)
	case p == ".." || strings.HasPrefix(p, "../"):
		return "", fmt.Errorf("path %q escapes the workspace", p)
	}
	return p, nil
}

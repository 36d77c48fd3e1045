// Package prompt provides the agent system prompt. The default prompt is
// embedded in the binary; a file on disk can replace it.
package prompt

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"agentforge/internal/logging"
)

//go:embed prompts
var embedded embed.FS

const defaultPromptPath = "prompts/system.md"

// Default returns the embedded system prompt.
func Default() string {
	data, err := embedded.ReadFile(defaultPromptPath)
	if err != nil {
		// Only possible if the embed directive is broken.
		panic(fmt.Sprintf("prompt: embedded system prompt missing: %v", err))
	}
	return strings.TrimSpace(string(data))
}

// Load returns the prompt at path, or the embedded default when path is empty.
func Load(path string) (string, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("system prompt %s is empty", path)
	}
	logging.BootDebug("Loaded system prompt from %s (%d bytes)", path, len(text))
	return text, nil
}

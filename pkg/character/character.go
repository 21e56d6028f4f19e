// Package character loads the persona descriptions agents speak as.
package character

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const fileSuffix = ".character.txt"

// Path returns the description file for name
func Path(dir, name string) string {
	return filepath.Join(dir, name+fileSuffix)
}

// Load reads a description file and joins its non-blank lines with a space
func Load(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open character description: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read character description: %w", err)
	}

	return strings.Join(lines, " "), nil
}

// SystemPrompt builds the system prompt for own talking to peer
func SystemPrompt(dir, own, peer string) (string, error) {
	description, err := Load(Path(dir, own))
	if err != nil {
		return "", err
	}
	return Prompt(own, description, peer), nil
}

// Prompt formats a system prompt from a loaded description
func Prompt(own, description, peer string) string {
	parts := []string{fmt.Sprintf("Your name is %s.", own)}
	if description != "" {
		parts = append(parts, description)
	}
	parts = append(parts, fmt.Sprintf("You are chatting with %s.", peer))
	return strings.Join(parts, " ")
}

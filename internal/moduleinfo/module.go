// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package moduleinfo discovers module directories, parses module.prop,
// and resolves each module's effective mount mode and per-path rules
// (spec §3, §4.2).
package moduleinfo

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Mode is a module-level or per-path mount mode.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeHymofs  Mode = "hymofs"
	ModeOverlay Mode = "overlay"
	ModeMagic   Mode = "magic"
	ModeNone    Mode = "none"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// PathRule is a per-path mode override loaded from module_rules.conf.
type PathRule struct {
	Path string `json:"path"`
	Mode Mode   `json:"mode"`
}

// Module is one discovered module directory.
type Module struct {
	ID          string
	SourcePath  string
	Name        string
	Version     string
	Author      string
	Description string
	Mode        Mode
	Rules       []PathRule
}

// PropPath returns the module.prop file path for the module.
func (m *Module) PropPath() string {
	return filepath.Join(m.SourcePath, "module.prop")
}

// builtinPartitions is the fixed set implied by every live Android root
// per spec §3; "system" is always implied.
var builtinPartitions = []string{"system", "vendor", "product", "system_ext", "odm", "oem"}

// IsActive reports whether a module directory should be considered for
// mounting: it must exist, carry none of the disable markers, and have
// at least one recognized partition subdirectory with content.
func IsActive(dir string, extraPartitions []string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	for _, marker := range []string{"disable", "remove", "skip_mount"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return false
		}
	}

	partitions := append(append([]string{}, builtinPartitions...), extraPartitions...)
	for _, p := range partitions {
		sub := filepath.Join(dir, p)
		entries, err := os.ReadDir(sub)
		if err != nil {
			continue
		}
		if len(entries) > 0 {
			return true
		}
	}
	return false
}

// ValidID reports whether id satisfies the safe character set from
// spec §3.
func ValidID(id string) bool {
	return id != "" && idPattern.MatchString(id)
}

// ParseProp parses a module.prop file (key=value lines, '#' comments).
// A missing file yields zero-value metadata, not an error — module.prop
// is optional per spec §3.
func ParseProp(path string) (name, version, author, description string, err error) {
	f, openErr := os.Open(path)
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return "", "", "", "", nil
		}
		return "", "", "", "", openErr
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "name":
			name = value
		case "version":
			version = value
		case "author":
			author = value
		case "description":
			description = value
		}
	}
	return name, version, author, description, scanner.Err()
}

// Scan enumerates moduleDir one level deep and returns every active
// module, with mode/rules resolved from the supplied maps (absent IDs
// default to ModeAuto, per spec §4.2).
func Scan(moduleDir string, modeMap map[string]Mode, rulesMap map[string][]PathRule, extraPartitions []string) ([]*Module, error) {
	entries, err := os.ReadDir(moduleDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan moduledir %s: %w", moduleDir, err)
	}

	var modules []*Module
	for _, entry := range entries {
		if !entry.IsDir() || !ValidID(entry.Name()) {
			continue
		}
		dir := filepath.Join(moduleDir, entry.Name())
		if !IsActive(dir, extraPartitions) {
			continue
		}

		name, version, author, description, propErr := ParseProp(filepath.Join(dir, "module.prop"))
		if propErr != nil {
			continue
		}

		mode, ok := modeMap[entry.Name()]
		if !ok {
			mode = ModeAuto
		}

		modules = append(modules, &Module{
			ID:          entry.Name(),
			SourcePath:  dir,
			Name:        name,
			Version:     version,
			Author:      author,
			Description: description,
			Mode:        mode,
			Rules:       rulesMap[entry.Name()],
		})
	}
	return modules, nil
}

// RewriteDescription formats the post-mount module.prop description
// string, following original_source's "<emoji> <strategy>:<n> ..."
// grammar: one emoji-status prefix plus a count per strategy actually
// used for this module.
func RewriteDescription(original string, ok bool, counts map[string]int) string {
	status := "✅"
	if !ok {
		status = "⚠️"
	}

	base := original
	if idx := strings.Index(base, " ["); idx >= 0 {
		base = base[:idx]
	}
	base = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(base, "✅"), "⚠️"))

	var parts []string
	for _, strategy := range []string{"hymofs", "overlay", "magic"} {
		if n, ok := counts[strategy]; ok && n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", strategy, n))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s %s", status, base)
	}
	return fmt.Sprintf("%s %s [%s]", status, base, strings.Join(parts, " "))
}

package audio

import (
	"fmt"
	"os/exec"
	"strings"
)

// Source is a capture device as reported by ffmpeg.
type Source struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default"`
}

// ListSources returns the input devices ffmpeg can open with deviceFormat
// (for example "pulse" or "alsa").
func ListSources(binary, deviceFormat string) ([]Source, error) {
	if binary == "" {
		binary = "ffmpeg"
	}
	cmd := exec.Command(binary, "-hide_banner", "-sources", deviceFormat)
	output, err := cmd.Output()
	if err != nil && len(output) == 0 {
		return nil, fmt.Errorf("failed to list %s sources: %w", deviceFormat, err)
	}
	return parseSources(string(output)), nil
}

// parseSources reads the "ffmpeg -sources" listing. The default device is
// marked with a leading asterisk and descriptions are bracketed.
func parseSources(output string) []Source {
	var sources []Source
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Auto-detected sources") {
			continue
		}

		var src Source
		if strings.HasPrefix(line, "*") {
			src.Default = true
			line = strings.TrimSpace(line[1:])
		}
		if i := strings.Index(line, " ["); i >= 0 && strings.HasSuffix(line, "]") {
			src.Description = line[i+2 : len(line)-1]
			line = line[:i]
		}
		src.Name = strings.TrimSpace(line)
		if src.Name != "" {
			sources = append(sources, src)
		}
	}
	return sources
}

// InputArgs returns the ffmpeg input arguments that capture from src.
func InputArgs(deviceFormat string, src Source) string {
	return fmt.Sprintf("-f %s -i %q", deviceFormat, src.Name)
}

package serialmux

import "strings"

const (
	LineTypeDetection = "detection"
	LineTypeStatus    = "status"
	LineTypeUnknown   = "unknown"
)

// ClassifyLine returns a coarse type for a scanner line. Detections are JSON
// objects naming an address; status lines start with '#'.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "{") && strings.Contains(line, `"address"`):
		return LineTypeDetection
	case strings.HasPrefix(line, "#"):
		return LineTypeStatus
	}
	return LineTypeUnknown
}

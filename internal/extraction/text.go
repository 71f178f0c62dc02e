package extraction

import (
	"fmt"
	"strings"
)

// PassthroughText is the stand-in for the external document-text engine.
// It handles plain text directly; binary formats need the real engine wired
// in as the TextFn.
func PassthroughText(data []byte, mime string) (string, error) {
	if strings.HasPrefix(mime, "text/") {
		return strings.ReplaceAll(string(data), "\x00", ""), nil
	}
	return "", fmt.Errorf("no text engine configured for mime type %s", mime)
}

package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pscheid92/picorelay/internal/domain"
)

// Kind is the closed set of operator commands.
type Kind int

const (
	KindDisplayText Kind = iota + 1
	KindTakePicture
	KindAnalyzeImage
	KindSendToOLED
)

var kindNames = map[Kind]string{
	KindDisplayText:  "display",
	KindTakePicture:  "take_picture",
	KindAnalyzeImage: "analyze_image",
	KindSendToOLED:   "send_to_oled",
}

// String returns the push-channel wire name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a wire name to a Kind. Unknown names are an error, never
// silently dropped.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", domain.ErrUnknownCommand, name)
}

// Request is one operator command.
type Request struct {
	Kind   Kind
	Text   string
	Prompt string
}

// DecodeRequest builds a Request from a push-channel command name and its
// raw payload. display accepts a bare string or {"text": ...};
// analyze_image takes {"prompt": ...}; send_to_oled takes {"text": ...}.
// A payload of the wrong JSON type yields an empty field, which the handler
// then rejects.
func DecodeRequest(name string, data json.RawMessage) (Request, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return Request{}, err
	}

	req := Request{Kind: kind}
	switch kind {
	case KindDisplayText:
		req.Text = stringOrField(data, "text")
	case KindSendToOLED:
		req.Text = field(data, "text")
	case KindAnalyzeImage:
		req.Prompt = field(data, "prompt")
	case KindTakePicture:
	}
	return req, nil
}

func stringOrField(data json.RawMessage, key string) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return field(data, key)
}

func field(data json.RawMessage, key string) string {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(obj[key], &s); err != nil {
		return ""
	}
	return s
}

package runtime

import (
	"encoding/json"
	"strings"

	enginerr "github.com/anchor-ui/anchor/internal/errors"
	"github.com/anchor-ui/anchor/internal/types"
	"github.com/tidwall/gjson"
)

// ParseProps decodes a mount point's data-props attribute. An absent or
// blank attribute is an empty configuration, not an error; anything else
// must be a JSON object.
func ParseProps(raw string) (types.Props, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return types.Props{}, nil
	}

	if !gjson.Valid(trimmed) {
		return nil, enginerr.New(enginerr.KindBadProps, "", "data-props is not valid JSON")
	}
	if parsed := gjson.Parse(trimmed); !parsed.IsObject() {
		return nil, enginerr.New(enginerr.KindBadProps, "",
			"data-props must be a JSON object, got "+parsed.Type.String())
	}

	var props types.Props
	if err := json.Unmarshal([]byte(trimmed), &props); err != nil {
		return nil, enginerr.Wrap(enginerr.KindBadProps, "", "decoding data-props", err)
	}
	if props == nil {
		props = types.Props{}
	}
	return props, nil
}

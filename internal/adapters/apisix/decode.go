package apisix

import (
	"bytes"
	"encoding/json"
	"path"

	"github.com/nulzo/gatewayctl/pkg/api"
)

// rawList defers decoding of "list": empty collections come back as {}
// instead of [] on some control-plane versions.
type rawList struct {
	Total int             `json:"total"`
	List  json.RawMessage `json:"list"`
}

func decodeList[T any](raw rawList) ([]api.Item[T], error) {
	trimmed := bytes.TrimSpace(raw.List)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, nil
	}
	var items []api.Item[T]
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// keyID extracts the object id from an etcd-style key like /apisix/routes/<id>.
func keyID(key string) string {
	if key == "" {
		return ""
	}
	return path.Base(key)
}

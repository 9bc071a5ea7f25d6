package api

import "encoding/json"

// Consumer mirrors the gateway's consumer object.
type Consumer struct {
	Username string                     `json:"username"`
	Desc     string                     `json:"desc,omitempty"`
	Plugins  map[string]json.RawMessage `json:"plugins,omitempty"`
}

// KeyAuthConsumer builds a consumer authenticated by a single API key.
func KeyAuthConsumer(username, key string) (*Consumer, error) {
	raw, err := json.Marshal(KeyAuth{Key: key})
	if err != nil {
		return nil, err
	}
	return &Consumer{
		Username: username,
		Plugins:  map[string]json.RawMessage{PluginKeyAuth: raw},
	}, nil
}

// Key returns the consumer's key-auth key, or "" when none is set.
func (c *Consumer) Key() string {
	raw, ok := c.Plugins[PluginKeyAuth]
	if !ok {
		return ""
	}
	var ka KeyAuth
	if err := json.Unmarshal(raw, &ka); err != nil {
		return ""
	}
	return ka.Key
}

// HasPlugin reports whether the consumer configures the plugin.
func (c *Consumer) HasPlugin(name string) bool {
	_, ok := c.Plugins[name]
	return ok
}

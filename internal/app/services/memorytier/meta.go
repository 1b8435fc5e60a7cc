package memorytier

import "encoding/json"

func marshalMeta(meta map[string]interface{}) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}

func unmarshalMeta(data []byte) map[string]interface{} {
	if len(data) == 0 {
		return nil
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil
	}
	return meta
}

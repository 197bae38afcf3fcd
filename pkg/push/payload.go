package push

import "encoding/json"

// BuildPayload constructs the provider-specific wire payload for a push, per
// spec section 4.3 step 3. deviceToken is only used for GCM, which embeds
// its single target registration id directly in the payload body the way
// the legacy GCM HTTP API expects.
func BuildPayload(kind Kind, message string, deviceToken string) ([]byte, error) {
	switch kind {
	case KindAPNS:
		return json.Marshal(struct {
			Alert string `json:"alert"`
		}{Alert: message})
	case KindGCM:
		return json.Marshal(struct {
			Msg             string   `json:"msg"`
			RegistrationIDs []string `json:"registration_ids"`
		}{Msg: message, RegistrationIDs: []string{deviceToken}})
	default:
		return nil, ErrProviderNotConfigured
	}
}

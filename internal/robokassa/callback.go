// Package robokassa validates inbound payment-gateway callbacks.
package robokassa

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Channel identifies which delivery path a callback arrived on. The gateway
// signs the two channels with different passwords.
type Channel int

const (
	// ChannelResult is the server-to-server notification (ResultURL).
	ChannelResult Channel = iota
	// ChannelSuccess is the browser redirect after payment (SuccessURL).
	ChannelSuccess
)

// Callback carries the canonical fields of a gateway callback regardless of
// transport encoding.
type Callback struct {
	OutSum         string
	InvID          string
	SignatureValue string
}

func (c Callback) complete() bool {
	return c.OutSum != "" && c.InvID != "" && c.SignatureValue != ""
}

// ReadCallback extracts the canonical callback fields from a request. The
// gateway posts form bodies, some integrations relay JSON, and the redirect
// channel arrives as query parameters; all three are accepted.
func ReadCallback(r *http.Request) (Callback, error) {
	contentType := r.Header.Get("Content-Type")

	switch {
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return Callback{}, fmt.Errorf("failed to read request body: %w", err)
		}
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return Callback{}, fmt.Errorf("failed to parse form body: %w", err)
		}
		return fromValues(values), nil

	case strings.Contains(contentType, "application/json"):
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			return Callback{}, fmt.Errorf("failed to decode JSON body: %w", err)
		}
		return fromJSON(fields), nil

	default:
		// The gateway sometimes delivers the fields as query parameters even
		// on the notification channel.
		return fromValues(r.URL.Query()), nil
	}
}

func fromValues(values url.Values) Callback {
	return Callback{
		OutSum:         strings.TrimSpace(values.Get("OutSum")),
		InvID:          strings.TrimSpace(values.Get("InvId")),
		SignatureValue: strings.TrimSpace(values.Get("SignatureValue")),
	}
}

func fromJSON(fields map[string]any) Callback {
	str := func(key string) string {
		switch v := fields[key].(type) {
		case string:
			return strings.TrimSpace(v)
		case float64:
			// JSON numbers for amounts/invoice ids; render without exponent.
			return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
		default:
			return ""
		}
	}
	return Callback{
		OutSum:         str("OutSum"),
		InvID:          str("InvId"),
		SignatureValue: str("SignatureValue"),
	}
}

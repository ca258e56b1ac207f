package esim

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ProvisionResult holds whatever profile artifacts the provider returned.
// Fields are optional: the response shapes are inconsistent between API
// versions and we persist what we get.
type ProvisionResult struct {
	OrderID        string
	PlanName       string
	ICCID          string
	LPA            string
	ActivationCode string
	QRCode         string
	QRCodeURL      string
	InstallURL     string
}

var ErrNoProfile = errors.New("no profile in provider response")

type simPayload struct {
	ICCID           string `json:"iccid"`
	LPA             string `json:"lpa"`
	MatchingID      string `json:"matching_id"`
	QRCode          string `json:"qrcode"`
	QRCodeURL       string `json:"qrcode_url"`
	AppleInstallURL string `json:"direct_apple_installation_url"`
}

type orderEnvelope struct {
	Data struct {
		ID      json.Number  `json:"id"`
		Code    string       `json:"code"`
		Package string       `json:"package"`
		Sims    []simPayload `json:"sims"`
	} `json:"data"`
	simPayload
	ID json.Number `json:"id"`
}

// extractors are tried in order; the first one that yields a profile wins.
// The nested sims list is the current response shape, flat top-level fields
// the legacy one.
var extractors = []func(*orderEnvelope, *ProvisionResult) bool{
	extractNestedSim,
	extractFlatSim,
}

// ParseProvision decodes a provider order response. It tolerates partial
// artifacts but reports ErrNoProfile when no recognizable profile fields are
// present at all.
func ParseProvision(body []byte) (*ProvisionResult, error) {
	var envelope orderEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}

	result := &ProvisionResult{
		OrderID:  envelope.Data.ID.String(),
		PlanName: envelope.Data.Package,
	}
	if result.OrderID == "" {
		result.OrderID = envelope.ID.String()
	}

	for _, extract := range extractors {
		if extract(&envelope, result) {
			return result, nil
		}
	}
	return nil, ErrNoProfile
}

func extractNestedSim(envelope *orderEnvelope, result *ProvisionResult) bool {
	if len(envelope.Data.Sims) == 0 {
		return false
	}
	return applySim(envelope.Data.Sims[0], result)
}

func extractFlatSim(envelope *orderEnvelope, result *ProvisionResult) bool {
	return applySim(envelope.simPayload, result)
}

func applySim(sim simPayload, result *ProvisionResult) bool {
	if sim.ICCID == "" && sim.LPA == "" && sim.QRCode == "" && sim.QRCodeURL == "" && sim.MatchingID == "" {
		return false
	}
	result.ICCID = sim.ICCID
	result.LPA = sim.LPA
	result.ActivationCode = sim.MatchingID
	result.QRCode = sim.QRCode
	result.QRCodeURL = sim.QRCodeURL
	result.InstallURL = sim.AppleInstallURL
	// Some responses put the full activation payload in qrcode and leave
	// lpa empty.
	if result.LPA == "" && strings.HasPrefix(result.QRCode, "LPA:") {
		result.LPA = result.QRCode
	}
	return true
}

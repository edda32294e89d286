package attestation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"enclave-verifier/shared"
)

// MaxResponseSize caps the attestation endpoint's response body.
const MaxResponseSize = 64 * 1024

// endpointResponse is the JSON body an enclave attestation endpoint returns.
type endpointResponse struct {
	AttestationType string `json:"attestation_type"`
	Quote           string `json:"quote"`
	PublicKey       string `json:"public_key"`
	PublicKeyHash   string `json:"public_key_hash"`
	ReportData      string `json:"report_data"`
}

const responseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["attestation_type", "quote"],
  "properties": {
    "attestation_type": {"type": "string", "minLength": 1, "maxLength": 64},
    "quote": {"type": "string", "minLength": 1},
    "public_key": {"type": "string"},
    "public_key_hash": {"type": "string"},
    "report_data": {"type": "string"}
  }
}`

var (
	responseSchemaOnce     sync.Once
	compiledResponseSchema *gojsonschema.Schema
	responseSchemaErr      error
)

func responseValidator() (*gojsonschema.Schema, error) {
	responseSchemaOnce.Do(func() {
		compiledResponseSchema, responseSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(responseSchema))
	})
	return compiledResponseSchema, responseSchemaErr
}

// attestationRequest is the body of a challenged (POST) attestation request.
type attestationRequest struct {
	Nonce string `json:"nonce"`
}

// fetch retrieves a fresh attestation from endpoint, with a GET or, when
// nonce is set, a POST carrying it. Every call reaches the live endpoint;
// nothing is cached on either side of the transport.
func (v *Verifier) fetch(ctx context.Context, endpoint, nonce string) (*endpointResponse, error) {
	req, err := newAttestationRequest(ctx, endpoint, nonce)
	if err != nil {
		return nil, &Failure{Kind: FailureMalformed, Step: StepFetch, Message: "invalid endpoint URL", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, &Failure{Kind: FailureNetwork, Step: StepFetch, Message: "attestation request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Failure{Kind: FailureNetwork, Step: StepFetch, Message: fmt.Sprintf("attestation endpoint returned HTTP %d", resp.StatusCode)}
	}

	body, err := shared.ReadLimitedBody(resp, MaxResponseSize)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Failure{Kind: FailureNetwork, Step: StepFetch, Message: "attestation read interrupted", Err: ctx.Err()}
		}
		return nil, &Failure{Kind: FailureMalformed, Step: StepFetch, Message: "attestation response unreadable", Err: err}
	}
	return decodeResponse(body)
}

func newAttestationRequest(ctx context.Context, endpoint, nonce string) (*http.Request, error) {
	if nonce == "" {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}
	payload, err := json.Marshal(attestationRequest{Nonce: nonce})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func decodeResponse(body []byte) (*endpointResponse, error) {
	schema, err := responseValidator()
	if err != nil {
		return nil, &Failure{Kind: FailureInternal, Step: StepFetch, Message: "response schema", Err: err}
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, &Failure{Kind: FailureMalformed, Step: StepFetch, Message: "attestation response is not JSON", Err: err}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, &Failure{Kind: FailureMalformed, Step: StepFetch, Message: "attestation response failed validation: " + strings.Join(msgs, "; ")}
	}

	var r endpointResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &Failure{Kind: FailureMalformed, Step: StepFetch, Message: "decode attestation response", Err: err}
	}
	return &r, nil
}

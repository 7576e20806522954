package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"warehouse-relay/internal/models"
)

// ErrDelivery is reported, never retried. At-most-once is the contract;
// clients re-query if a push goes missing.
var ErrDelivery = errors.New("callback delivery failed")

// Notifier posts callback envelopes to opaque push-channel URLs, signed the
// way the channel's gateway expects.
type Notifier struct {
	httpClient *http.Client
	signer     *v4.Signer
	creds      aws.CredentialsProvider
	region     string
	service    string
}

// New builds a notifier. A nil credentials provider disables request signing.
func New(creds aws.CredentialsProvider, region, service string) *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		signer:     v4.NewSigner(),
		creds:      creds,
		region:     region,
		service:    service,
	}
}

// resultDocument is the wire shape clients consume for successful runs.
type resultDocument struct {
	QueryID string          `json:"query_id"`
	Results []models.Record `json:"results"`
}

// encodeEnvelope renders ack/error envelopes as plain text and result
// envelopes as a JSON document.
func encodeEnvelope(env models.Envelope) ([]byte, string, error) {
	switch env.Kind {
	case models.EnvelopeResult:
		records := env.Page.Records
		if records == nil {
			records = []models.Record{}
		}
		body, err := json.Marshal(resultDocument{QueryID: env.JobID, Results: records})
		if err != nil {
			return nil, "", fmt.Errorf("encode result document: %w", err)
		}
		return body, "application/json", nil
	case models.EnvelopeAck, models.EnvelopeError:
		return []byte(env.Message), "text/plain", nil
	default:
		return nil, "", fmt.Errorf("unknown envelope kind %q", env.Kind)
	}
}

// Deliver performs one signed POST to the callback address. Non-2xx and
// transport errors both surface as ErrDelivery.
func (n *Notifier) Deliver(ctx context.Context, callbackURL string, env models.Envelope) error {
	body, contentType, err := encodeEnvelope(env)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", contentType)

	if n.creds != nil {
		creds, err := n.creds.Retrieve(ctx)
		if err != nil {
			return fmt.Errorf("%w: resolve signing credentials: %v", ErrDelivery, err)
		}
		sum := sha256.Sum256(body)
		if err := n.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), n.service, n.region, time.Now()); err != nil {
			return fmt.Errorf("%w: sign request: %v", ErrDelivery, err)
		}
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post %s: %v", ErrDelivery, callbackURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: callback returned %d", ErrDelivery, resp.StatusCode)
	}
	return nil
}

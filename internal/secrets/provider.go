package secrets

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/youmark/pkcs8"
)

// Credential failures are fatal for the current operation; no retries happen
// at this layer.
var (
	ErrStoreUnavailable = errors.New("secret store unavailable")
	ErrSecretMalformed  = errors.New("secret malformed")
	ErrKeyDecode        = errors.New("private key decode failed")
)

// SecretsAPI is the slice of the Secrets Manager client the provider needs.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Provider resolves the warehouse key-pair material from Secrets Manager.
type Provider struct {
	client     SecretsAPI
	secretID   string
	passphrase string
}

func NewProvider(client SecretsAPI, secretID, passphrase string) *Provider {
	return &Provider{client: client, secretID: secretID, passphrase: passphrase}
}

// secretPayload mirrors the stored secret document.
type secretPayload struct {
	PrivateKey string `json:"p_key"`
}

// PrivateKey fetches the secret and decodes the PEM-wrapped PKCS#8 key with
// the configured passphrase.
func (p *Provider) PrivateKey(ctx context.Context) (*rsa.PrivateKey, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrStoreUnavailable, p.secretID, err)
	}

	var raw string
	if out.SecretString != nil {
		raw = aws.ToString(out.SecretString)
	} else {
		raw = string(out.SecretBinary)
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: secret %s is empty", ErrSecretMalformed, p.secretID)
	}

	var payload secretPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: not a JSON document: %v", ErrSecretMalformed, err)
	}
	if payload.PrivateKey == "" {
		return nil, fmt.Errorf("%w: missing p_key field", ErrSecretMalformed)
	}

	return decodeKey(payload.PrivateKey, p.passphrase)
}

// decodeKey parses a PEM-encoded PKCS#8 RSA key, decrypting it when a
// passphrase is configured.
func decodeKey(pemKey, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyDecode)
	}

	if passphrase != "" {
		key, err := pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyDecode, err)
		}
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDecode, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrKeyDecode)
	}
	return key, nil
}

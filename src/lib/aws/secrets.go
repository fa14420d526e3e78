package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"nftdiarias/src/lib"
	"nftdiarias/src/lib/chain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/tidwall/gjson"
)

type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type cachedSigner struct {
	signer  chain.Signer
	expires time.Time
}

// SecretsManagerVault loads custodial keys stored as "<prefix>/<lowercase address>".
// A secret holds either the hex key or {"privateKey": "<hex>"}.
type SecretsManagerVault struct {
	client secretsAPI
	prefix string
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSigner
}

func NewSecretsManagerVault(ctx context.Context, region, prefix string, ttl time.Duration) (*SecretsManagerVault, error) {
	cfg, err := lib.AWSLoadConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	return newSecretsManagerVault(secretsmanager.NewFromConfig(cfg), prefix, ttl), nil
}

func newSecretsManagerVault(client secretsAPI, prefix string, ttl time.Duration) *SecretsManagerVault {
	return &SecretsManagerVault{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cachedSigner),
	}
}

func (v *SecretsManagerVault) SignerFor(ctx context.Context, address string) (chain.Signer, error) {
	addr, err := chain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	c, ok := v.cache[addr]
	v.mu.Unlock()
	if ok && v.now().Before(c.expires) {
		return c.signer, nil
	}

	out, err := v.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(v.prefix + "/" + addr),
	})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", chain.ErrNoCustody, addr)
		}
		return nil, fmt.Errorf("%w: read custody secret: %w", chain.ErrChainUnavailable, err)
	}
	raw := strings.TrimSpace(aws.ToString(out.SecretString))
	if gjson.Valid(raw) && strings.HasPrefix(raw, "{") {
		raw = gjson.Get(raw, "privateKey").String()
	}
	signer, err := chain.KeySignerFromHex(raw)
	if err != nil {
		return nil, fmt.Errorf("custody secret for %s: %w", addr, err)
	}
	if chain.Lower(signer.Address()) != addr {
		return nil, fmt.Errorf("%w: secret for %s holds key of %s", chain.ErrNoCustody, addr, chain.Lower(signer.Address()))
	}

	v.mu.Lock()
	v.cache[addr] = cachedSigner{signer: signer, expires: v.now().Add(v.ttl)}
	v.mu.Unlock()
	return signer, nil
}

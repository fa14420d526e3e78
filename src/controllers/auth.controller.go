package controllers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"nftdiarias/src/lib"
	"nftdiarias/src/lib/chain"
	"nftdiarias/src/types"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type ChallengeStore interface {
	Issue(ctx context.Context, wallet, nonce string, ttl time.Duration) error
	Consume(ctx context.Context, wallet string) (string, error)
}

// AuthController issues login challenges and exchanges signed ones for JWTs.
type AuthController struct {
	Challenges ChallengeStore
	Secret     []byte
	TTL        time.Duration
	TokenTTL   time.Duration
	Now        func() time.Time
}

func NewAuthController(challenges ChallengeStore, secret []byte, ttl time.Duration) *AuthController {
	return &AuthController{Challenges: challenges, Secret: secret, TTL: ttl, TokenTTL: 24 * time.Hour, Now: time.Now}
}

func LoginMessage(wallet, nonce string) string {
	return fmt.Sprintf("NFTDiarias login\nwallet: %s\nnonce: %s", wallet, nonce)
}

func (a *AuthController) Challenge(ctx *gin.Context) (message *string, status int, err error) {
	var body types.ChallengeRequestBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		return nil, http.StatusBadRequest, err
	}
	wallet, err := chain.NormalizeAddress(body.Wallet)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	bNonce := make([]byte, 16)
	if _, err := rand.Read(bNonce); err != nil {
		return nil, http.StatusInternalServerError, err
	}
	nonce := hex.EncodeToString(bNonce)
	if err := a.Challenges.Issue(ctx, wallet, nonce, a.TTL); err != nil {
		log.Printf("Error storing challenge for %s: %s\n", wallet, err.Error())
		return nil, http.StatusServiceUnavailable, errors.New("could not issue challenge")
	}
	msg := LoginMessage(wallet, nonce)
	return &msg, http.StatusOK, nil
}

func (a *AuthController) Verify(ctx *gin.Context) (token *string, status int, err error) {
	var body types.VerifyRequestBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		return nil, http.StatusBadRequest, err
	}
	wallet, err := chain.NormalizeAddress(body.Wallet)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	sig, err := hexutil.Decode(body.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return nil, http.StatusBadRequest, errors.New("signature must be 65 bytes of 0x-prefixed hex")
	}
	nonce, err := a.Challenges.Consume(ctx, wallet)
	if err != nil {
		if errors.Is(err, lib.ErrChallengeMissing) {
			return nil, http.StatusUnauthorized, errors.New("no pending challenge for wallet")
		}
		log.Printf("Error reading challenge for %s: %s\n", wallet, err.Error())
		return nil, http.StatusServiceUnavailable, errors.New("could not verify challenge")
	}
	signer, err := RecoverSigner(LoginMessage(wallet, nonce), sig)
	if err != nil || signer != wallet {
		return nil, http.StatusUnauthorized, errors.New("signature does not match wallet")
	}

	now := a.Now()
	claims := types.WalletClaims{
		Wallet: wallet,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   wallet,
			Issuer:    "nftdiarias",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.TokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	log.Printf("Issued token for wallet %s\n", wallet)
	return &signed, http.StatusOK, nil
}

// RecoverSigner returns the lowercase address that personal-signed message.
func RecoverSigner(message string, sig []byte) (string, error) {
	if len(sig) != crypto.SignatureLength {
		return "", errors.New("bad signature length")
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), s)
	if err != nil {
		return "", err
	}
	return chain.Lower(crypto.PubkeyToAddress(*pub)), nil
}

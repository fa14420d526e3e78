package types

import "github.com/golang-jwt/jwt/v5"

// WalletClaims identifies an authenticated wallet. Subject is the lowercase address.
type WalletClaims struct {
	Wallet string `json:"wallet"`
	jwt.RegisteredClaims
}

func (c WalletClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return c.RegisteredClaims.GetExpirationTime()
}
func (c WalletClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return c.RegisteredClaims.GetIssuedAt()
}
func (c WalletClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return c.RegisteredClaims.GetNotBefore()
}
func (c WalletClaims) GetIssuer() (string, error) {
	return c.RegisteredClaims.GetIssuer()
}
func (c WalletClaims) GetSubject() (string, error) {
	return c.RegisteredClaims.GetSubject()
}
func (c WalletClaims) GetAudience() (jwt.ClaimStrings, error) {
	return c.RegisteredClaims.GetAudience()
}

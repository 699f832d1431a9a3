package auth

import "github.com/golang-jwt/jwt/v5"

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	CustomerID string
	JTI        string
}

// AccessTokenClaims represents the typed JWT issued to clients. The caller's
// customer id travels in both customer_id and the registered subject.
type AccessTokenClaims struct {
	CustomerID string `json:"customer_id"`
	jwt.RegisteredClaims
}

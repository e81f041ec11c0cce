// Package jwt issues and verifies signed access tokens.
//
// Tokens carry sub (account), tid (tenant), sid (session), iat, exp, jti, iss and aud, and a
// kid header naming the signing key. Verification accepts the current key and, during a
// rotation window, the previous one; see [StaticKeys].
package jwt

package model

import "github.com/golang-jwt/jwt"

// UserClaims carries the authenticated caller identity issued by the external
// auth system. Issuer holds the user id.
type UserClaims struct {
	UserName string `json:"user_name"`
	jwt.StandardClaims
}

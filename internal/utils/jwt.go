package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// Claims represents the JWT claims of a device session
type Claims struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id,omitempty"`
	jwt.StandardClaims
}

// DeviceToken is an issued access token
type DeviceToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
	TokenType   string `json:"token_type"`
}

// GenerateDeviceToken signs an access token binding requests to deviceID
func GenerateDeviceToken(secret, deviceID, userID string, ttl time.Duration) (DeviceToken, error) {
	if secret == "" {
		return DeviceToken{}, errors.New("jwt secret is not configured")
	}
	if deviceID == "" {
		return DeviceToken{}, errors.New("device id is required")
	}

	now := time.Now()
	claims := Claims{
		DeviceID: deviceID,
		UserID:   userID,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
			Subject:   deviceID,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return DeviceToken{}, err
	}

	return DeviceToken{
		AccessToken: signed,
		ExpiresIn:   int64(ttl.Seconds()),
		TokenType:   "Bearer",
	}, nil
}

// ValidateToken validates a JWT token and returns the claims
func ValidateToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("failed to parse token claims")
	}
	if claims.DeviceID == "" {
		return nil, errors.New("token has no device id")
	}

	return claims, nil
}

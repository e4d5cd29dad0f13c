package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

// authFlags defines CLI flags to authenticate the WebSocket handshake
// with a short-lived bearer token, for servers that expect one. These
// flags can also be set using environment variables and the
// application's configuration file.
func authFlags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "auth-jwt-secret",
			Usage: "HMAC secret for signing a JWT bearer token (optional)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("UNDERTOW_AUTH_JWT_SECRET"),
				toml.TOML("auth.jwt_secret", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "auth-jwt-issuer",
			Usage: "JWT issuer claim",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("UNDERTOW_AUTH_JWT_ISSUER"),
				toml.TOML("auth.jwt_issuer", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "auth-jwt-audience",
			Usage: "JWT audience claim",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("UNDERTOW_AUTH_JWT_AUDIENCE"),
				toml.TOML("auth.jwt_audience", configFilePath),
			),
		},
		&cli.DurationFlag{
			Name:  "auth-jwt-ttl",
			Usage: "JWT expiration time, relative to now",
			Value: time.Minute,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("UNDERTOW_AUTH_JWT_TTL"),
				toml.TOML("auth.jwt_ttl", configFilePath),
			),
		},
	}
}

// authHeader mints a signed bearer token for the handshake's
// Authorization header, or returns an empty string if the
// CLI flags don't configure authentication.
func authHeader(cmd *cli.Command) (string, error) {
	secret := cmd.String("auth-jwt-secret")
	if secret == "" {
		return "", nil
	}

	token, err := bearerToken(secret, cmd.String("auth-jwt-issuer"),
		cmd.String("auth-jwt-audience"), cmd.Duration("auth-jwt-ttl"))
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT bearer token: %w", err)
	}

	return "Bearer " + token, nil
}

func bearerToken(secret, issuer, audience string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

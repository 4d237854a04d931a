package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/errkind"
)

// adminClaims are the claims carried by the long-lived admin API token
type adminClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// ValidateAdminToken checks the long-lived admin token for issuer, roles and
// expiry. Signature verification happens at the admin API; this is a local
// sanity check so misconfiguration fails fast instead of mid-run.
func ValidateAdminToken(raw, expectedIssuer string, requiredRoles []string) error {
	if raw == "" {
		return &errkind.ValidationError{Field: "AEM_ADMIN_API_AUTH_TOKEN", Reason: "empty"}
	}

	var claims adminClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return &errkind.ValidationError{
			Field:  "AEM_ADMIN_API_AUTH_TOKEN",
			Reason: fmt.Sprintf("not a parseable JWT: %v", err),
		}
	}

	if expectedIssuer != "" && claims.Issuer != expectedIssuer {
		return &errkind.ValidationError{
			Field:  "AEM_ADMIN_API_AUTH_TOKEN",
			Reason: fmt.Sprintf("unexpected issuer %q", claims.Issuer),
		}
	}

	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return &errkind.ValidationError{Field: "AEM_ADMIN_API_AUTH_TOKEN", Reason: "token expired"}
	}

	for _, want := range requiredRoles {
		found := false
		for _, have := range claims.Roles {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return &errkind.ValidationError{
				Field:  "AEM_ADMIN_API_AUTH_TOKEN",
				Reason: fmt.Sprintf("missing role %q", want),
			}
		}
	}
	return nil
}

// internal/lti/migration/migration.go
package migration

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/mind-engage/lti-tool/internal/lti/claims"
)

/*
LTI 1.1 to 1.3 migration signature verification.

Platforms that migrated a 1.1 deployment include an lti1p1 claim carrying the
old consumer key plus an HMAC-SHA256 signature over fields of the 1.3 launch.
A valid signature lets the tool link 1.1-era records to the new identities; an
invalid or absent one simply means the legacy identifiers cannot be trusted.
It never invalidates the launch itself.
*/

// ComputeOAuthConsumerKeySign computes the migration claim signature:
// base64(HMAC-SHA256(secret, "key&deployment_id&iss&aud&exp&nonce")).
func ComputeOAuthConsumerKeySign(oauthConsumerKey, deploymentID, iss, aud string, exp int64, nonce, oauthSecret string) string {
	base := strings.Join([]string{
		oauthConsumerKey, deploymentID, iss, aud, strconv.FormatInt(exp, 10), nonce,
	}, "&")
	mac := hmac.New(sha256.New, []byte(oauthSecret))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateMigrationClaim verifies the signature in the launch's lti1p1 claim.
// Absence of the claim, the consumer key, or the signature field returns
// false; so does any mismatch. Comparison is constant time.
func ValidateMigrationClaim(d claims.Data, oauthSecret string) bool {
	mc, ok := d.MigrationData()
	if !ok || mc.OAuthConsumerKey == "" || mc.OAuthConsumerKeySig == "" {
		return false
	}
	aud := d.Audience()
	if len(aud) == 0 {
		return false
	}
	computed := ComputeOAuthConsumerKeySign(
		mc.OAuthConsumerKey,
		d.DeploymentID(),
		d.Issuer(),
		aud[0],
		d.Expiry(),
		d.Nonce(),
		oauthSecret,
	)
	return hmac.Equal([]byte(mc.OAuthConsumerKeySig), []byte(computed))
}

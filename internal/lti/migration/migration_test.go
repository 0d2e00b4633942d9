package migration

import (
	"testing"

	"github.com/mind-engage/lti-tool/internal/lti/claims"
)

const testSecret = "consumer-secret"

func launchData(sig string) claims.Data {
	return claims.Data{
		"iss":   "https://platform.example.edu",
		"aud":   "client-1",
		"exp":   int64(1735689600),
		"nonce": "nonce-abc",
		claims.DeploymentID: "dep-1",
		claims.LTI1p1: map[string]any{
			"user_id":                 "legacy-user-7",
			"oauth_consumer_key":      "old-key",
			"oauth_consumer_key_sign": sig,
		},
	}
}

func TestComputeSignDeterministic(t *testing.T) {
	a := ComputeOAuthConsumerKeySign("old-key", "dep-1", "https://platform.example.edu", "client-1", 1735689600, "nonce-abc", testSecret)
	b := ComputeOAuthConsumerKeySign("old-key", "dep-1", "https://platform.example.edu", "client-1", 1735689600, "nonce-abc", testSecret)
	if a == "" || a != b {
		t.Fatalf("signature not deterministic: %q vs %q", a, b)
	}
}

func TestComputeSignFieldSensitivity(t *testing.T) {
	base := ComputeOAuthConsumerKeySign("old-key", "dep-1", "iss", "aud", 100, "n", testSecret)
	variants := []string{
		ComputeOAuthConsumerKeySign("other-key", "dep-1", "iss", "aud", 100, "n", testSecret),
		ComputeOAuthConsumerKeySign("old-key", "dep-2", "iss", "aud", 100, "n", testSecret),
		ComputeOAuthConsumerKeySign("old-key", "dep-1", "iss2", "aud", 100, "n", testSecret),
		ComputeOAuthConsumerKeySign("old-key", "dep-1", "iss", "aud2", 100, "n", testSecret),
		ComputeOAuthConsumerKeySign("old-key", "dep-1", "iss", "aud", 101, "n", testSecret),
		ComputeOAuthConsumerKeySign("old-key", "dep-1", "iss", "aud", 100, "n2", testSecret),
		ComputeOAuthConsumerKeySign("old-key", "dep-1", "iss", "aud", 100, "n", "other-secret"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d did not change the signature", i)
		}
	}
}

func TestValidateMigrationClaim(t *testing.T) {
	good := ComputeOAuthConsumerKeySign("old-key", "dep-1", "https://platform.example.edu", "client-1", 1735689600, "nonce-abc", testSecret)

	if !ValidateMigrationClaim(launchData(good), testSecret) {
		t.Fatal("valid signature rejected")
	}
	if ValidateMigrationClaim(launchData("not-the-signature"), testSecret) {
		t.Fatal("bad signature accepted")
	}
	if ValidateMigrationClaim(launchData(good), "wrong-secret") {
		t.Fatal("wrong secret accepted")
	}
}

func TestValidateMigrationClaimAbsent(t *testing.T) {
	d := claims.Data{"iss": "https://platform.example.edu", "aud": "client-1"}
	if ValidateMigrationClaim(d, testSecret) {
		t.Fatal("absent claim validated")
	}

	d = launchData("sig")
	d[claims.LTI1p1] = map[string]any{"user_id": "legacy-user-7"}
	if ValidateMigrationClaim(d, testSecret) {
		t.Fatal("claim without key/signature validated")
	}
}

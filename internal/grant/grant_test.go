package grant

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/amaumene/gostreamd/internal/models"
)

func testIssuer(at time.Time) *Issuer {
	i := NewIssuer("test-secret", "https://cdn.example.com")
	i.now = func() time.Time { return at }
	return i
}

func TestIssueAndRedeem(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	issuer := testIssuer(start)

	g := issuer.Issue("tt0133093", models.Quality1080p, 600*time.Second)

	if g.TitleID != "tt0133093" || g.Quality != models.Quality1080p {
		t.Errorf("Grant fields mismatch: %+v", g)
	}
	if !strings.Contains(g.URL, "expires=") || !strings.Contains(g.URL, "sig="+g.Signature) {
		t.Errorf("Grant URL missing signed query parameters: %s", g.URL)
	}

	// ttl=600s: redeem succeeds at t+599s
	issuer.now = func() time.Time { return start.Add(599 * time.Second) }
	if err := issuer.Redeem(g.TitleID, g.Quality, g.Expiry.Unix(), g.Signature); err != nil {
		t.Errorf("Redeem at t+599s failed: %v", err)
	}

	// and fails with GrantExpired at t+601s
	issuer.now = func() time.Time { return start.Add(601 * time.Second) }
	err := issuer.Redeem(g.TitleID, g.Quality, g.Expiry.Unix(), g.Signature)
	if !errors.Is(err, models.ErrGrantExpired) {
		t.Errorf("Expected ErrGrantExpired at t+601s, got %v", err)
	}
}

func TestRedeemRepeatedly(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	issuer := testIssuer(start)
	g := issuer.Issue("tt0111161", models.Quality720p, 10*time.Minute)

	// Stateless grants are multi-use until expiry
	for n := 0; n < 3; n++ {
		if err := issuer.Redeem(g.TitleID, g.Quality, g.Expiry.Unix(), g.Signature); err != nil {
			t.Fatalf("Redeem attempt %d failed: %v", n+1, err)
		}
	}
}

func TestRedeemTamperedGrant(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	issuer := testIssuer(start)
	g := issuer.Issue("tt0111161", models.Quality480p, 10*time.Minute)

	// Upgrading the quality must break the signature
	err := issuer.Redeem(g.TitleID, models.Quality4K, g.Expiry.Unix(), g.Signature)
	if !errors.Is(err, models.ErrGrantInvalidSignature) {
		t.Errorf("Expected ErrGrantInvalidSignature for tampered quality, got %v", err)
	}

	// So must extending the expiry
	err = issuer.Redeem(g.TitleID, g.Quality, g.Expiry.Unix()+3600, g.Signature)
	if !errors.Is(err, models.ErrGrantInvalidSignature) {
		t.Errorf("Expected ErrGrantInvalidSignature for tampered expiry, got %v", err)
	}
}

func TestExpiredForgeryReportsSignatureFirst(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	issuer := testIssuer(start)
	g := issuer.Issue("tt0111161", models.Quality720p, time.Minute)

	// An expired grant with a bad signature must fail on the signature, not
	// leak whether the expiry would have been accepted.
	issuer.now = func() time.Time { return start.Add(time.Hour) }
	err := issuer.Redeem(g.TitleID, g.Quality, g.Expiry.Unix(), "deadbeef")
	if !errors.Is(err, models.ErrGrantInvalidSignature) {
		t.Errorf("Expected ErrGrantInvalidSignature, got %v", err)
	}
}

func TestDifferentSecretsDisagree(t *testing.T) {
	a := NewIssuer("secret-a", "https://cdn.example.com")
	b := NewIssuer("secret-b", "https://cdn.example.com")

	g := a.Issue("T1", models.Quality720p, time.Minute)
	err := b.Redeem(g.TitleID, g.Quality, g.Expiry.Unix(), g.Signature)
	if !errors.Is(err, models.ErrGrantInvalidSignature) {
		t.Errorf("Expected signature mismatch across secrets, got %v", err)
	}
}

package lightning

import "testing"

func TestGenerateSecretHashesPreimage(t *testing.T) {
	s, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	if !s.HasPreimage() {
		t.Error("expected a freshly generated secret to have a known preimage")
	}
	if !VerifyPreimage(s.Hash(), s.Preimage()) {
		t.Error("expected the generated preimage to verify against its own hash")
	}
}

func TestGenerateSecretDistinctPerCall(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	b, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	if string(a.Hash()) == string(b.Hash()) {
		t.Error("expected two generated secrets to have distinct hashes")
	}
}

func TestSecretFromHashHasNoPreimage(t *testing.T) {
	s := hashOnlySecret(t)
	if s.HasPreimage() {
		t.Error("expected a hash-only secret to report no known preimage")
	}
	if s.Preimage() != nil {
		t.Error("expected Preimage() to be nil before SetPreimage")
	}
}

func hashOnlySecret(t *testing.T) *Secret {
	t.Helper()
	full, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	return SecretFromHash(full.Hash())
}

func TestSetPreimageRejectsMismatch(t *testing.T) {
	full, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	s := SecretFromHash(full.Hash())

	wrongPreimage := make([]byte, 32)
	wrongPreimage[0] = 1
	if err := s.SetPreimage(wrongPreimage); err == nil {
		t.Error("expected SetPreimage() to reject a preimage that doesn't hash to the stored hash")
	}
	if s.HasPreimage() {
		t.Error("expected HasPreimage() to remain false after a rejected SetPreimage")
	}

	if err := s.SetPreimage(full.Preimage()); err != nil {
		t.Fatalf("SetPreimage() with the correct preimage error = %v", err)
	}
	if !s.HasPreimage() {
		t.Error("expected HasPreimage() to be true after a correct SetPreimage")
	}
}

func TestVerifyPreimage(t *testing.T) {
	s, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	if VerifyPreimage(s.Hash(), []byte("not the preimage")) {
		t.Error("expected VerifyPreimage() to reject an unrelated preimage")
	}
}

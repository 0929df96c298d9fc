package verify

import (
	"bytes"
	"context"
	"testing"
)

func BenchmarkMinisignVerifierVerify(b *testing.B) {
	key := newTestKey(b)
	// roughly the size of a release build of the link program
	artifactPath, signaturePath := writeSigned(b, key, bytes.Repeat([]byte{0x7f}, 4<<20))

	verifier, err := NewMinisignVerifier(key.public)
	if err != nil {
		b.Fatalf("NewMinisignVerifier: %v", err)
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := verifier.Verify(ctx, artifactPath, signaturePath); err != nil {
			b.Fatalf("Verify failed: %v", err)
		}
	}
}

package wire

import (
	"bytes"
	"testing"
	"time"
)

func TestCipherRoundTripChaCha20(t *testing.T) {
	c := NewCipher(CipherChaCha20, "hunter2")
	bucket := TimeBucket(time.Now())

	for _, size := range []int{0, 1, 17, 64, 65536} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}
		orig := append([]byte(nil), payload...)

		if err := c.Transform(payload, bucket); err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if size > 0 && bytes.Equal(payload, orig) {
			t.Fatalf("ciphertext equals plaintext for size %d", size)
		}
		if err := c.Transform(payload, bucket); err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(payload, orig) {
			t.Fatalf("round trip mismatch for size %d: got %x want %x", size, payload, orig)
		}
	}
}

func TestCipherRoundTripXOR(t *testing.T) {
	c := NewCipher(CipherXOR, "hunter2")
	payload := []byte("the quick brown fox")
	orig := append([]byte(nil), payload...)

	if err := c.Transform(payload, 0); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(payload, orig) {
		t.Fatal("xor ciphertext equals plaintext")
	}
	if err := c.Transform(payload, 0); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(payload, orig) {
		t.Fatalf("xor round trip mismatch: got %x want %x", payload, orig)
	}
}

func TestDifferentBucketsDifferentKeystream(t *testing.T) {
	c := NewCipher(CipherChaCha20, "hunter2")
	p1 := make([]byte, 32)
	p2 := make([]byte, 32)
	c.Transform(p1, 100)
	c.Transform(p2, 101)
	if bytes.Equal(p1, p2) {
		t.Fatal("expected different keystreams across buckets")
	}
}

func TestCandidateBucketsToleratesSkew(t *testing.T) {
	now := time.Now()
	buckets := CandidateBuckets(now)
	cur := TimeBucket(now)
	if buckets[0] != cur || buckets[1] != cur-1 || buckets[2] != cur+1 {
		t.Fatalf("CandidateBuckets = %v, want [cur,cur-1,cur+1]", buckets)
	}
}

package crypto

import "testing"

func TestSecureWipeZeroesBuffer(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}

	if err := SecureWipe(data); err != nil {
		t.Fatalf("SecureWipe returned error: %v", err)
	}

	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d not wiped: got %d", i, b)
		}
	}
}

func TestSecureWipeRejectsNil(t *testing.T) {
	if err := SecureWipe(nil); err == nil {
		t.Fatal("expected error wiping nil buffer")
	}
}

func TestZeroBytesIgnoresNil(t *testing.T) {
	// Must not panic.
	ZeroBytes(nil)
}

func TestZeroAllWipesEveryBuffer(t *testing.T) {
	a := []byte{1, 1, 1}
	b := []byte{2, 2, 2}
	ZeroAll(a, nil, b)

	for _, buf := range [][]byte{a, b} {
		for _, v := range buf {
			if v != 0 {
				t.Fatalf("buffer not wiped: %v", buf)
			}
		}
	}
}

func TestSecureWipeOnKEMKeyPair(t *testing.T) {
	kp, err := GenerateKEMKeyPair()
	if err != nil {
		t.Fatalf("GenerateKEMKeyPair: %v", err)
	}

	before := make([]byte, len(kp.Private))
	copy(before, kp.Private)

	ZeroBytes(kp.Private)

	allZero := true
	for _, b := range kp.Private {
		if b != 0 {
			allZero = false
			break
		}
	}
	if !allZero {
		t.Fatal("KEM private key not wiped")
	}

	same := true
	for i, b := range before {
		if kp.Private[i] != b {
			same = false
			break
		}
	}
	if same {
		t.Fatal("wipe had no effect on KEM private key")
	}
}

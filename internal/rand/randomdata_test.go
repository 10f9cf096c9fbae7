package rand

import "testing"

func TestLetterString(t *testing.T) {
	name := LetterString(20)
	if len(name) != 20 {
		t.Fatalf("expected 20 signs, got %d", len(name))
	}
	for _, c := range name {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			t.Fatalf("sign %q out of range in %q", c, name)
		}
	}
}

func benchmarkRandBytes(b *testing.B, size int) {
	for n := 0; n < b.N; n++ {
		_ = randBytes(size)
	}
}

func BenchmarkRandBytes20(b *testing.B)   { benchmarkRandBytes(b, 20) }
func BenchmarkRandBytes1000(b *testing.B) { benchmarkRandBytes(b, 1000) }

func benchmarkRandLetterBytes(b *testing.B, size int) {
	for n := 0; n < b.N; n++ {
		_ = randLetterBytes(size)
	}
}

func BenchmarkRandLetterBytes20(b *testing.B)   { benchmarkRandLetterBytes(b, 20) }
func BenchmarkRandLetterBytes1000(b *testing.B) { benchmarkRandLetterBytes(b, 1000) }

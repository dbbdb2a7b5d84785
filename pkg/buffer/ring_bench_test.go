package buffer

import (
	"context"
	"testing"
)

func BenchmarkRingWriteRead(b *testing.B) {
	r, err := New[int](1024)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.Write(i)
		r.Read()
	}
}

func BenchmarkRingBlockingPair(b *testing.B) {
	r, err := New[int](256, WithPolicy[int](Block))
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	go func() {
		for {
			if _, err := r.ReadContext(ctx); err != nil {
				return
			}
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.WriteContext(ctx, i)
	}
	b.StopTimer()
	_ = r.Close()
}

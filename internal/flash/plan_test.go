package flash

import "testing"

func TestNewPlan(t *testing.T) {
	t.Run("full chunks plus remainder equal the source size", func(t *testing.T) {
		cases := []struct {
			srcSize, chunkSize int64
		}{
			{0, 512},
			{511, 512},
			{512, 512},
			{513, 512},
			{1 << 20, 4096},
			{(1 << 20) + 1, 4096},
		}
		for _, c := range cases {
			p, err := NewPlan(c.srcSize, c.chunkSize)
			if err != nil {
				t.Fatalf("NewPlan(%d, %d) error = %v", c.srcSize, c.chunkSize, err)
			}
			if got := p.FullChunks*p.ChunkSize + p.Remainder; got != c.srcSize {
				t.Errorf("NewPlan(%d, %d): chunks*size+remainder = %d, want %d",
					c.srcSize, c.chunkSize, got, c.srcSize)
			}
			if p.RemainderOffset() != p.FullChunks*p.ChunkSize {
				t.Errorf("NewPlan(%d, %d): RemainderOffset() = %d, want %d",
					c.srcSize, c.chunkSize, p.RemainderOffset(), p.FullChunks*p.ChunkSize)
			}
		}
	})

	t.Run("2.5 GB image with 1 GiB chunks", func(t *testing.T) {
		p, err := NewPlan(2_500_000_000, 1_073_741_824)
		if err != nil {
			t.Fatalf("NewPlan() error = %v", err)
		}

		if p.FullChunks != 2 {
			t.Errorf("FullChunks = %d, want 2", p.FullChunks)
		}
		if p.Remainder != 352_516_352 {
			t.Errorf("Remainder = %d, want 352516352", p.Remainder)
		}
		if p.RemainderOffset() != 2_147_483_648 {
			t.Errorf("RemainderOffset() = %d, want 2147483648", p.RemainderOffset())
		}
	})

	t.Run("rejects non-positive chunk size", func(t *testing.T) {
		if _, err := NewPlan(100, 0); err == nil {
			t.Error("NewPlan(100, 0) expected error")
		}
		if _, err := NewPlan(100, -1); err == nil {
			t.Error("NewPlan(100, -1) expected error")
		}
	})

	t.Run("rejects negative source size", func(t *testing.T) {
		if _, err := NewPlan(-1, 512); err == nil {
			t.Error("NewPlan(-1, 512) expected error")
		}
	})
}

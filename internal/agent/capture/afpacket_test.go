package capture

import "testing"

func TestNextPow2(t *testing.T) {
	tests := []struct {
		input int
		want  int
	}{
		{0, 1},
		{1, 1},
		{3, 4},
		{1025, 2048},
		{65535, 65536},
	}

	for _, tt := range tests {
		if got := nextPow2(tt.input); got != tt.want {
			t.Errorf("nextPow2(%d) = %d; want %d", tt.input, got, tt.want)
		}
	}
}

func TestRingSizes(t *testing.T) {
	tests := []struct {
		snaplen   int
		wantFrame int
	}{
		{64, 2048},
		{1514, 2048},
		{9000, 16384},
		{65535, 65536},
		{1 << 20, 65536},
	}

	for _, tt := range tests {
		frame, block := ringSizes(tt.snaplen)
		if frame != tt.wantFrame {
			t.Errorf("ringSizes(%d) frame = %d; want %d", tt.snaplen, frame, tt.wantFrame)
		}
		if block%frame != 0 {
			t.Errorf("ringSizes(%d) block %d is not a multiple of frame %d", tt.snaplen, block, frame)
		}
	}
}

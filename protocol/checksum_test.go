package protocol

import "testing"

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{
			name:     "empty data",
			data:     []byte{},
			expected: 0x00,
		},
		{
			name:     "single byte",
			data:     []byte{0x5A},
			expected: 0x5A,
		},
		{
			name:     "address 0x08000000",
			data:     []byte{0x08, 0x00, 0x00, 0x00},
			expected: 0x08,
		},
		{
			name:     "pairs cancel",
			data:     []byte{0xA5, 0xA5, 0x3C, 0x3C},
			expected: 0x00,
		},
		{
			name:     "mass erase code",
			data:     []byte{0xFF, 0xFF},
			expected: 0x00,
		},
		{
			name:     "bank 1 erase code",
			data:     []byte{0xFF, 0xFE},
			expected: 0x01,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Checksum(tt.data...)
			if result != tt.expected {
				t.Errorf("Checksum() = 0x%02X, want 0x%02X", result, tt.expected)
			}
		})
	}
}

func TestValidChecksum(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  bool
	}{
		{"nil", nil, false},
		{"single byte", []byte{0x00}, false},
		{"valid address", []byte{0x08, 0x00, 0x10, 0x00, 0x18}, true},
		{"corrupted address", []byte{0x08, 0x00, 0x10, 0x00, 0x19}, false},
		{"valid count", []byte{0x03, 0x03}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidChecksum(tt.frame); got != tt.want {
				t.Errorf("ValidChecksum(% X) = %v, want %v", tt.frame, got, tt.want)
			}
		})
	}
}

// Exhaustive check over every byte pair.
func TestCheckComplementGrid(t *testing.T) {
	accepted := 0
	for b := 0; b < 256; b++ {
		for c := 0; c < 256; c++ {
			got := CheckComplement(byte(b), byte(c))
			want := byte(c) == ^byte(b)
			if got != want {
				t.Fatalf("CheckComplement(0x%02X, 0x%02X) = %v, want %v", b, c, got, want)
			}
			if got {
				accepted++
			}
		}
	}
	if accepted != 256 {
		t.Errorf("accepted %d pairs, want 256", accepted)
	}
}

func TestComplement(t *testing.T) {
	if got := Complement(CmdReadMemory); got != 0xEE {
		t.Errorf("Complement(0x11) = 0x%02X, want 0xEE", got)
	}
	if got := Complement(CmdGet); got != 0xFF {
		t.Errorf("Complement(0x00) = 0x%02X, want 0xFF", got)
	}
}

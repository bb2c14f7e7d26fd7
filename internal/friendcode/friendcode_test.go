package friendcode

import "testing"

// Known vector captured from the legacy servers.
func TestComputeKnownVector(t *testing.T) {
	t.Parallel()

	got := Compute(88, "ADAJ")
	if got != "3693-6718-7544" {
		t.Fatalf("Compute(88, ADAJ) = %q, want 3693-6718-7544", got)
	}
}

func TestComputeFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		profileID uint32
		gameID    string
	}{
		{"small id", 1, "ADAJ"},
		{"zero id", 0, "AMCE"},
		{"max id", 0xFFFFFFFF, "ADAE"},
		{"typical id", 4823, "AMAJ"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			code := Compute(tc.profileID, tc.gameID)
			if len(code) != 14 {
				t.Fatalf("code %q has length %d, want 14", code, len(code))
			}
			if code[4] != '-' || code[9] != '-' {
				t.Fatalf("code %q not grouped NNNN-NNNN-NNNN", code)
			}
			for i, c := range code {
				if i == 4 || i == 9 {
					continue
				}
				if c < '0' || c > '9' {
					t.Fatalf("code %q contains non-digit %q", code, c)
				}
			}
		})
	}
}

func TestComputeDeterministicAndValidates(t *testing.T) {
	t.Parallel()

	for _, id := range []uint32{1, 88, 500, 123456, 1 << 31} {
		for _, game := range []string{"ADAJ", "AMCE", "A2DE"} {
			first := Compute(id, game)
			if second := Compute(id, game); second != first {
				t.Fatalf("Compute(%d, %s) not deterministic: %q vs %q", id, game, first, second)
			}
			if !Validate(first, id, game) {
				t.Fatalf("Validate rejected own output %q for (%d, %s)", first, id, game)
			}
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if !Validate("3693-6718-7544", 88, "ADAJ") {
		t.Fatal("expected known vector to validate")
	}
	if !Validate("369367187544", 88, "ADAJ") {
		t.Fatal("expected undashed code to validate")
	}
	if Validate("3693-6718-7544", 89, "ADAJ") {
		t.Fatal("expected wrong profile id to fail")
	}
	if Validate("3693-6718-7544", 88, "AMCE") {
		t.Fatal("expected wrong game id to fail")
	}
	if Validate("0000-0000-0000", 88, "ADAJ") {
		t.Fatal("expected wrong code to fail")
	}
}

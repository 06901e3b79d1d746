package sampleindex_test

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/e7canasta/clipfeed/modules/sampleindex"
)

func makeEntries(n int) []sampleindex.Entry {
	entries := make([]sampleindex.Entry, n)
	for i := range entries {
		entries[i] = sampleindex.Entry{Path: "x", Labels: []int{i}, Line: i + 1}
	}
	return entries
}

// TestAdvanceSequentialWraparound validates in-order traversal without shuffle.
//
// Contract:
//   - N calls to Advance return 0..N-1 in order
//   - the (N+1)-th call returns 0 again and bumps the epoch
func TestAdvanceSequentialWraparound(t *testing.T) {
	for _, n := range []int{1, 2, 5, 17} {
		x, err := sampleindex.New(makeEntries(n), sampleindex.Options{})
		if err != nil {
			t.Fatalf("New(%d) failed: %v", n, err)
		}

		for i := 0; i < n; i++ {
			if got := x.Advance(); got != i {
				t.Fatalf("N=%d: Advance() #%d = %d, want %d", n, i, got, i)
			}
		}
		if x.Epoch() != 1 {
			t.Errorf("N=%d: Epoch()=%d after full pass, want 1", n, x.Epoch())
		}
		if got := x.Advance(); got != 0 {
			t.Errorf("N=%d: Advance() after wraparound = %d, want 0", n, got)
		}
	}
	t.Logf("✅ sequential traversal wraps to 0 for all sizes")
}

// TestShuffleDeterminism validates that two runs with the same seed produce
// identical permutation sequences across several epochs.
func TestShuffleDeterminism(t *testing.T) {
	const n, epochs = 10, 4

	run := func(seed int64) []int {
		x, err := sampleindex.New(makeEntries(n), sampleindex.Options{
			Shuffle: true,
			Rand:    rand.New(rand.NewSource(seed)),
		})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		var seq []int
		for i := 0; i < n*epochs; i++ {
			seq = append(seq, x.Advance())
		}
		return seq
	}

	a, b := run(42), run(42)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed produced different sequences:\n%v\n%v", a, b)
	}

	// Every epoch is a permutation of [0, n).
	for e := 0; e < epochs; e++ {
		seen := make(map[int]bool)
		for _, idx := range a[e*n : (e+1)*n] {
			seen[idx] = true
		}
		if len(seen) != n {
			t.Errorf("epoch %d is not a permutation: %v", e, a[e*n:(e+1)*n])
		}
	}
	t.Logf("✅ shuffle is deterministic for a fixed seed")
}

func TestShuffleRequiresRand(t *testing.T) {
	if _, err := sampleindex.New(makeEntries(3), sampleindex.Options{Shuffle: true}); err == nil {
		t.Fatal("New(shuffle without rand) succeeded, want error")
	}
}

func TestPeekMatchesAdvance(t *testing.T) {
	x, _ := sampleindex.New(makeEntries(3), sampleindex.Options{})
	for i := 0; i < 7; i++ {
		peek := x.Peek()
		if got := x.Advance(); got != peek {
			t.Fatalf("step %d: Peek()=%d but Advance()=%d", i, peek, got)
		}
	}
}

func TestSkip(t *testing.T) {
	tests := []struct {
		name    string
		n, k    int
		next    int
		wantErr bool
	}{
		{"skip none", 4, 0, 0, false},
		{"skip two", 4, 2, 2, false},
		{"skip last", 4, 3, 3, false},
		{"skip all", 4, 4, 0, true},
		{"negative", 4, -1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, _ := sampleindex.New(makeEntries(tt.n), sampleindex.Options{})
			err := x.Skip(tt.k)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Skip(%d) err=%v, wantErr=%v", tt.k, err, tt.wantErr)
			}
			if err == nil && x.Advance() != tt.next {
				t.Errorf("after Skip(%d) next index != %d", tt.k, tt.next)
			}
		})
	}
}

// TestRandomSkipIndependentOfShuffle validates that the skip draw uses its own
// generator: the permutation is the same whatever the skip seed.
func TestRandomSkipIndependentOfShuffle(t *testing.T) {
	build := func(skipSeed int64) (*sampleindex.Index, int) {
		x, _ := sampleindex.New(makeEntries(8), sampleindex.Options{
			Shuffle: true,
			Rand:    rand.New(rand.NewSource(7)),
		})
		k, err := x.RandomSkip(5, rand.New(rand.NewSource(skipSeed)))
		if err != nil {
			t.Fatalf("RandomSkip failed: %v", err)
		}
		if k < 0 || k >= 5 {
			t.Fatalf("RandomSkip drew %d, want [0,5)", k)
		}
		return x, k
	}

	a, ka := build(1)
	b, kb := build(99)
	if !reflect.DeepEqual(a.Order(), b.Order()) {
		t.Errorf("skip seed changed the permutation: %v vs %v", a.Order(), b.Order())
	}
	if a.Cursor() != ka || b.Cursor() != kb {
		t.Errorf("cursor does not match skip: %d/%d vs %d/%d", a.Cursor(), ka, b.Cursor(), kb)
	}
}

func TestParseManifest(t *testing.T) {
	input := strings.Join([]string{
		"# comment",
		"clips/a.avi 1 3",
		"",
		"clips/b.avi 17 1,0,2",
		"/abs/c.avi 4",
	}, "\n")

	entries, err := sampleindex.ParseManifest(strings.NewReader(input), sampleindex.ParseOptions{RootFolder: "/data"})
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	want := []sampleindex.Entry{
		{Path: "/data/clips/a.avi", Start: 1, HasStart: true, Labels: []int{3}, Line: 2, Sequence: "/data/clips"},
		{Path: "/data/clips/b.avi", Start: 17, HasStart: true, Labels: []int{1, 0, 2}, Line: 4, Sequence: "/data/clips"},
		{Path: "/abs/c.avi", Labels: []int{4}, Line: 5, Sequence: "/abs"},
	}
	for i := range want {
		if !reflect.DeepEqual(entries[i], want[i]) {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

// TestParseManifestLenientLabels documents the permissive label parser:
// non-numeric tokens become 0 instead of rejecting the line.
func TestParseManifestLenientLabels(t *testing.T) {
	entries, err := sampleindex.ParseManifest(strings.NewReader("a.jpg cat,7x,-2,"), sampleindex.ParseOptions{})
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	want := []int{0, 7, -2, 0}
	if !reflect.DeepEqual(entries[0].Labels, want) {
		t.Errorf("labels = %v, want %v", entries[0].Labels, want)
	}
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  sampleindex.ParseOptions
		line  int
	}{
		{"empty", "\n# only comments\n", sampleindex.ParseOptions{}, 0},
		{"too many fields", "a 1 2 3", sampleindex.ParseOptions{}, 1},
		{"single field", "ok 1\nlonely", sampleindex.ParseOptions{}, 2},
		{"bad start", "a one 2", sampleindex.ParseOptions{}, 1},
		{"missing start", "a 2", sampleindex.ParseOptions{RequireStart: true}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sampleindex.ParseManifest(strings.NewReader(tt.input), tt.opts)
			var me *sampleindex.ManifestError
			if !errors.As(err, &me) {
				t.Fatalf("err=%v, want *ManifestError", err)
			}
			if me.Line != tt.line {
				t.Errorf("error line=%d, want %d (%v)", me.Line, tt.line, err)
			}
		})
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	if err := os.WriteFile(path, []byte("a.png 1\nb.png 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := sampleindex.LoadManifest(path, sampleindex.ParseOptions{})
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}

	_, err = sampleindex.LoadManifest(filepath.Join(dir, "missing.txt"), sampleindex.ParseOptions{})
	var me *sampleindex.ManifestError
	if !errors.As(err, &me) {
		t.Fatalf("missing file err=%v, want *ManifestError", err)
	}

	empty := filepath.Join(dir, "empty.txt")
	os.WriteFile(empty, nil, 0o644)
	_, err = sampleindex.LoadManifest(empty, sampleindex.ParseOptions{})
	if !errors.Is(err, sampleindex.ErrEmptyManifest) {
		t.Errorf("empty manifest err=%v, want ErrEmptyManifest", err)
	}
	if !strings.Contains(err.Error(), empty) {
		t.Errorf("error %q does not name the manifest file", err)
	}
}

func TestCheckLabelCount(t *testing.T) {
	ok := []sampleindex.Entry{{Labels: []int{1, 2}}, {Labels: []int{3, 4}}}
	if n, err := sampleindex.CheckLabelCount(ok); err != nil || n != 2 {
		t.Errorf("CheckLabelCount(ok) = %d, %v; want 2, nil", n, err)
	}

	bad := []sampleindex.Entry{{Labels: []int{1, 2}}, {Labels: []int{3}, Line: 9}}
	_, err := sampleindex.CheckLabelCount(bad)
	var me *sampleindex.ManifestError
	if !errors.As(err, &me) || me.Line != 9 {
		t.Errorf("CheckLabelCount(bad) err=%v, want ManifestError at line 9", err)
	}
}

func TestPermissiveAtoi(t *testing.T) {
	tests := map[string]int{
		"42":          42,
		"  7":         7,
		"-3":          -3,
		"+5":          5,
		"12abc":       12,
		"abc":         0,
		"":            0,
		"-":           0,
		"99999999999": 2147483647,
	}
	for in, want := range tests {
		if got := sampleindex.PermissiveAtoi(in); got != want {
			t.Errorf("PermissiveAtoi(%q)=%d, want %d", in, got, want)
		}
	}
}

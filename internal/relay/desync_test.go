package relay

import (
	"strings"
	"testing"

	"github.com/makalin/stpro/internal/testutil"
)

func TestParseSplitSpec(t *testing.T) {
	tests := []struct {
		in      string
		want    SplitSpec
		wantErr bool
	}{
		{in: "3", want: SplitSpec{Offset: 3}},
		{in: "-2", want: SplitSpec{Offset: -2}},
		{in: "3+sm", want: SplitSpec{Offset: 3, SNI: true, Middle: true}},
		{in: "1+h", want: SplitSpec{Offset: 1, Host: true}},
		{in: "5:2:1+e", want: SplitSpec{Offset: 5, Repeats: 2, Skip: 1, End: true}},
		{in: "5:2", want: SplitSpec{Offset: 5, Repeats: 2}},
		{in: "x", wantErr: true},
		{in: "3+q", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
		{in: "3:-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSplitSpec(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("expected %+v got %+v", tt.want, got)
			}
		})
	}
}

func mustSpecs(t *testing.T, specs ...string) []SplitSpec {
	t.Helper()
	out := make([]SplitSpec, 0, len(specs))
	for _, s := range specs {
		spec, err := ParseSplitSpec(s)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, spec)
	}
	return out
}

func chunkStrings(rec *testutil.RecordingWriter) []string {
	var out []string
	rest := string(rec.Bytes())
	for _, size := range rec.Sizes() {
		out = append(out, rest[:size])
		rest = rest[size:]
	}
	return out
}

func TestDesyncSplit(t *testing.T) {
	payload := []byte("PINGPONG")
	tests := []struct {
		name  string
		specs []string
		want  []string
	}{
		{name: "single_cut", specs: []string{"2"}, want: []string{"PI", "NGPONG"}},
		{name: "two_cuts", specs: []string{"2", "4"}, want: []string{"PI", "NG", "PONG"}},
		{name: "negative_offset", specs: []string{"-2"}, want: []string{"PINGPO", "NG"}},
		{name: "middle", specs: []string{"8+m"}, want: []string{"PING", "PONG"}},
		{name: "end", specs: []string{"2+e"}, want: []string{"PINGPO", "NG"}},
		{name: "past_end", specs: []string{"99"}, want: []string{"PINGPONG"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Desync{Split: mustSpecs(t, tt.specs...)}
			var rec testutil.RecordingWriter
			n, err := d.Shape(&rec, payload)
			if err != nil {
				t.Fatal(err)
			}
			if n != len(payload) {
				t.Fatalf("expected %d bytes got %d", len(payload), n)
			}
			got := chunkStrings(&rec)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("expected chunks %v got %v", tt.want, got)
			}
		})
	}
}

func TestDesyncDisorder(t *testing.T) {
	payload := []byte("PINGPONG")
	d := &Desync{Disorder: mustSpecs(t, "4")}

	var rec testutil.RecordingWriter
	n, err := d.Shape(&rec, payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) {
		t.Fatalf("expected %d bytes got %d", len(payload), n)
	}

	got := chunkStrings(&rec)
	if len(got) != 2 || got[0] != "PONG" || got[1] != "PING" {
		t.Fatalf("expected reversed segments [PONG PING] got %v", got)
	}
}

func TestDesyncFake(t *testing.T) {
	payload := []byte("PINGPONG")
	tests := []struct {
		name string
		spec FakeSpec
		want []string
	}{
		{
			name: "decoy_fits",
			spec: FakeSpec{SplitSpec: SplitSpec{Offset: 4}, Data: []byte("XX")},
			want: []string{"XX", "PINGPONG"},
		},
		{
			name: "decoy_too_long",
			spec: FakeSpec{SplitSpec: SplitSpec{Offset: 1}, Data: []byte("XXXX")},
			want: []string{"PINGPONG"},
		},
		{
			name: "no_decoy",
			spec: FakeSpec{SplitSpec: SplitSpec{Offset: 4}},
			want: []string{"PINGPONG"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Desync{Fake: []FakeSpec{tt.spec}}
			var rec testutil.RecordingWriter
			if _, err := d.Shape(&rec, payload); err != nil {
				t.Fatal(err)
			}
			got := chunkStrings(&rec)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("expected chunks %v got %v", tt.want, got)
			}
		})
	}
}

func TestDesyncSkipRepeatsWindow(t *testing.T) {
	// offset 2, one application, skipping the first buffer.
	d := &Desync{Split: mustSpecs(t, "2:1:1")}

	steps := []struct {
		payload string
		want    []string
	}{
		{payload: "AAAA", want: []string{"AAAA"}},
		{payload: "BBBB", want: []string{"BB", "BB"}},
		{payload: "CCCC", want: []string{"CCCC"}},
	}

	for i, step := range steps {
		var rec testutil.RecordingWriter
		if _, err := d.Shape(&rec, []byte(step.payload)); err != nil {
			t.Fatal(err)
		}
		got := chunkStrings(&rec)
		if strings.Join(got, "|") != strings.Join(step.want, "|") {
			t.Fatalf("buffer %d: expected chunks %v got %v", i, step.want, got)
		}
	}
}

func TestDesyncSNIAnchor(t *testing.T) {
	hello := buildClientHello(t, "example.com")
	d := &Desync{Split: mustSpecs(t, "0+s")}

	var rec testutil.RecordingWriter
	if _, err := d.Shape(&rec, hello); err != nil {
		t.Fatal(err)
	}

	sizes := rec.Sizes()
	if len(sizes) != 2 {
		t.Fatalf("expected 2 chunks got %v", sizes)
	}
	second := string(rec.Bytes()[sizes[0]:])
	if !strings.HasPrefix(second, "example.com") {
		t.Fatalf("expected the cut right before the server name, second chunk starts %q", second)
	}
}

func TestDesyncHostAnchor(t *testing.T) {
	req := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	d := &Desync{Split: mustSpecs(t, "0+h")}

	var rec testutil.RecordingWriter
	if _, err := d.Shape(&rec, req); err != nil {
		t.Fatal(err)
	}

	sizes := rec.Sizes()
	if len(sizes) != 2 {
		t.Fatalf("expected 2 chunks got %v", sizes)
	}
	second := string(rec.Bytes()[sizes[0]:])
	if !strings.HasPrefix(second, "example.com") {
		t.Fatalf("expected the cut right before the host value, second chunk starts %q", second)
	}
}

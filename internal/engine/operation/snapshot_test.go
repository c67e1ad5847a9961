package operation

import (
	"errors"
	"testing"
)

func TestNewSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"valid", `{"uuid":"a","type_":"rect","x":1,"y":2}`, nil},
		{"not json", `{uuid:`, ErrInvalidSnapshot},
		{"not object", `[1,2]`, ErrInvalidSnapshot},
		{"no uuid", `{"type_":"rect"}`, ErrSnapshotNoID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSnapshot([]byte(tt.data))
			if tt.wantErr == nil && err != nil {
				t.Fatalf("NewSnapshot() = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewSnapshot() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSnapshotAccessors(t *testing.T) {
	s := MustSnapshot(`{"uuid":"a","type_":"circle","x":3.5,"radius":2}`)
	if s.ID() != "a" {
		t.Errorf("ID() = %q", s.ID())
	}
	if s.Type() != "circle" {
		t.Errorf("Type() = %q", s.Type())
	}
	if got := s.Get("x").Float(); got != 3.5 {
		t.Errorf("x = %v, want 3.5", got)
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	data := []byte(`{"uuid":"a"}`)
	s, err := NewSnapshot(data)
	if err != nil {
		t.Fatal(err)
	}
	data[2] = 'X'
	if s.ID() != "a" {
		t.Error("snapshot shares the input buffer")
	}

	out := s.Bytes()
	out[2] = 'X'
	if s.ID() != "a" {
		t.Error("Bytes() exposes the internal buffer")
	}
}

func TestSnapshotWith(t *testing.T) {
	s := MustSnapshot(`{"uuid":"a","width":1}`)
	s2, err := s.With("width", 40)
	if err != nil {
		t.Fatal(err)
	}
	if s2.Get("width").Int() != 40 {
		t.Errorf("width = %v, want 40", s2.Get("width"))
	}
	if s.Get("width").Int() != 1 {
		t.Error("With modified the original snapshot")
	}
	if s.Equal(s2) {
		t.Error("snapshots should differ")
	}
}

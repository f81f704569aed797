package normalize

import "testing"

func TestID(t *testing.T) {
	in := "  64f1c0ffee  "
	want := "64f1c0ffee"
	if got := ID(in); got != want {
		t.Fatalf("ID(%q) = %q, want %q", in, got, want)
	}
	if got := ID("AbC"); got != "AbC" {
		t.Fatalf("ID must keep case, got %q", got)
	}
}

func TestContent(t *testing.T) {
	in := "  see you at <b>the beach</b> "
	want := "see you at <b>the beach</b>"
	if got := Content(in); got != want {
		t.Fatalf("Content(%q) = %q, want %q", in, got, want)
	}
}

func TestKind(t *testing.T) {
	if got := Kind(" Chat_Mention "); got != "chat_mention" {
		t.Fatalf("Kind returned %q", got)
	}
}

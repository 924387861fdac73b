package ldapsync

import "testing"

func TestFilesafeNameRoot(t *testing.T) {
	if got := FilesafeName(RootName); got != "@" {
		t.Errorf("FilesafeName(root) = %q, want %q", got, "@")
	}
}

func TestFilesafeNameLowercasesAndEscapes(t *testing.T) {
	n, err := ParseMasterName(`Ex AMPLE.com.`)
	if err != nil {
		t.Fatal(err)
	}
	got := FilesafeName(n)
	want := "ex%20ample.com"
	if got != want {
		t.Errorf("FilesafeName(%v) = %q, want %q", n, got, want)
	}
}

func TestFilesafeNameNoTrailingDot(t *testing.T) {
	n, _ := ParseMasterName("example.com.")
	got := FilesafeName(n)
	if got[len(got)-1] == '.' && got != "example.com" {
		t.Errorf("FilesafeName should not retain a trailing dot marker beyond the label separator: got %q", got)
	}
	if got != "example.com" {
		t.Errorf("FilesafeName(example.com.) = %q, want %q", got, "example.com")
	}
}

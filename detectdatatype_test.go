package scrnaseq

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectDataType(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte("gene\tcell1\n"))
	zw.Close()

	for _, v := range []struct {
		Input    []byte
		Expected DataType
	}{
		{gz.Bytes(), DataTypeGzip},
		{[]byte{0x42, 0x5a, 0x68, 0x39, 0x31, 0x41}, DataTypeBZip2},
		{[]byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00, 0x00}, DataTypeXZ},
		{[]byte("gene\tcell1\tcell2\n"), DataTypeNoCompression},
		{[]byte("ab"), DataTypeNoCompression},
	} {
		dt, err := DetectDataType(bytes.NewReader(v.Input))
		if err != nil {
			t.Fatal(err)
		}
		if dt != v.Expected {
			t.Fatalf("Expected %s, got %s", v.Expected, dt)
		}
	}

	if _, err := DetectDataType(bytes.NewReader(nil)); err == nil {
		t.Error("Expected an error for empty input")
	}
}

func TestOpenDecompressedGzip(t *testing.T) {
	content := "gene,c1,c2\nA,1,2\nB,3,4\n"

	path := filepath.Join(t.TempDir(), "matrix.csv.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	zw.Write([]byte(content))
	zw.Close()
	f.Close()

	rdr, delim, err := OpenDecompressed(context.Background(), path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rdr.Close()

	if delim != ',' {
		t.Errorf("Expected ',' delimiter, got %q", delim)
	}

	got, err := io.ReadAll(rdr)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != content {
		t.Errorf("Expected %q, got %q", content, got)
	}
}

func TestOpenDecompressedPlainTSV(t *testing.T) {
	content := "gene\tc1\tc2\nA\t1\t2\n"

	path := filepath.Join(t.TempDir(), "matrix.tsv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	rdr, delim, err := OpenDecompressed(context.Background(), path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rdr.Close()

	if delim != '\t' {
		t.Errorf("Expected tab delimiter, got %q", delim)
	}
}

func TestSplitGoogleStoragePath(t *testing.T) {
	bucket, object, err := SplitGoogleStoragePath("gs://my-bucket/runs/merged.tsv.gz")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != "my-bucket" || object != "runs/merged.tsv.gz" {
		t.Errorf("Got bucket %q object %q", bucket, object)
	}

	for _, bad := range []string{"gs://my-bucket", "gs:///x", "/local/file"} {
		if _, _, err := SplitGoogleStoragePath(bad); err == nil {
			t.Errorf("Expected an error for %q", bad)
		}
	}
}

func TestExpandHome(t *testing.T) {
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("Absolute path changed to %q", got)
	}
	if got := ExpandHome("rel/~/path"); got != "rel/~/path" {
		t.Errorf("Relative path changed to %q", got)
	}
}

func TestFileSafe(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Sox10", "Sox10"},
		{"HLA-A/B", "HLA-A_B"},
		{`a\b:c d*e?`, "a_b_c_d_e_"},
	}

	for _, c := range cases {
		if got := FileSafe(c.in); got != c.want {
			t.Errorf("%q: expected %q, got %q", c.in, c.want, got)
		}
	}
}

package dud

import "testing"

func TestParseDudAccessorsAndFiles(t *testing.T) {
	data := []byte(
		"Format: 1.0\n" +
			"Source: hello\n" +
			"Version: 2.0-1\n" +
			"Architecture: amd64\n" +
			"Failed: no\n" +
			"Files:\n" +
			" abcd1234 1024 hello_2.0-1_amd64.build.log\n" +
			" deadbeef 2048 hello_2.0-1_amd64.firehose.xml\n" +
			" f00dface 4096 hello_2.0-1_amd64.deb\n",
	)

	d, err := Parse("/results/hello_2.0-1/build_amd64/1/hello_2.0-1_amd64.dud", data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if d.Source() != "hello" || d.Version() != "2.0-1" || d.Architecture() != "amd64" {
		t.Fatalf("unexpected accessors: source=%q version=%q arch=%q", d.Source(), d.Version(), d.Architecture())
	}
	if d.Failed() {
		t.Fatalf("expected Failed() == false")
	}
	if d.LogFile() == "" {
		t.Fatalf("expected a log file")
	}
	if d.FirehoseFile() == "" {
		t.Fatalf("expected a firehose file")
	}
	debs := d.DebFiles()
	if len(debs) != 1 {
		t.Fatalf("expected 1 deb file, got %d", len(debs))
	}
	if len(d.Files()) != 3 {
		t.Fatalf("expected Files() to return all 3 referenced files, got %d", len(d.Files()))
	}
}

func TestParseDudFailedBuild(t *testing.T) {
	data := []byte(
		"Source: hello\n" +
			"Version: 2.0-1\n" +
			"Architecture: amd64\n" +
			"Failed: yes\n" +
			"Files:\n" +
			" abcd1234 1024 hello_2.0-1_amd64.build.log\n",
	)
	d, err := Parse("/results/x.dud", data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !d.Failed() {
		t.Fatalf("expected Failed() == true")
	}
	if len(d.DebFiles()) != 0 {
		t.Fatalf("expected no deb files on a failed build")
	}
}

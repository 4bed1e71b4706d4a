package main

import (
	"strings"
	"testing"
)

func TestParseAssignments(t *testing.T) {
	input := "cell\tcluster\trelabelled\n" +
		"E7.5_b1_c1\t0\tEpiblast\n" +
		"E8.5_b2_c2\t1\tMesoderm\n"

	got, err := parseAssignments(strings.NewReader(input), '\t')
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 || got["E7.5_b1_c1"] != 0 || got["E8.5_b2_c2"] != 1 {
		t.Errorf("Unexpected assignments %v", got)
	}

	dup := "cell,cluster\nx,0\nx,1\n"
	if _, err := parseAssignments(strings.NewReader(dup), ','); err == nil {
		t.Errorf("Expected an error for a duplicated cell")
	}

	bad := "cell,cluster\nx,zero\n"
	if _, err := parseAssignments(strings.NewReader(bad), ','); err == nil {
		t.Errorf("Expected an error for a non-integer cluster")
	}
}

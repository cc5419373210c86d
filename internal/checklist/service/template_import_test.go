package service

import (
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"
)

const gbkImport = `templates:
  - name: 叉车日检
    type: pre_run
    sections:
      - id: s1
        title: 安全
        items:
          - {id: brakes, question: "刹车正常?", type: yes_no, required: true}
`

func TestParseImportFileEncodings(t *testing.T) {
	gbk, err := simplifiedchinese.GBK.NewEncoder().String(gbkImport)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"utf8", []byte(gbkImport)},
		{"utf8 bom", append([]byte("\xef\xbb\xbf"), gbkImport...)},
		{"gbk", []byte(gbk)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseImportFile(tt.data)
			if err != nil {
				t.Fatalf("ParseImportFile: %v", err)
			}
			if len(f.Templates) != 1 || f.Templates[0].Name != "叉车日检" {
				t.Fatalf("templates = %+v", f.Templates)
			}
			sec := f.Templates[0].Sections[0]
			if sec.Title != "安全" {
				t.Errorf("section title = %q", sec.Title)
			}
			// question 是 label 的别名
			if len(sec.Items) != 1 || sec.Items[0].Label != "刹车正常?" || !sec.Items[0].Required {
				t.Errorf("items = %+v", sec.Items)
			}
		})
	}

	if _, err := ParseImportFile([]byte("templates: []")); err == nil {
		t.Error("expected error for empty template list")
	}
}

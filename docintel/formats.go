package docintel

import (
	"fmt"
	"path/filepath"
	"strings"
)

// supportedExtensions are the file formats the parse service accepts.
// Everything else must be rejected before submission.
var supportedExtensions = map[string]struct{}{
	".pdf":  {},
	".doc":  {},
	".docx": {},
	".ppt":  {},
	".pptx": {},
	".xls":  {},
	".xlsx": {},
	".txt":  {},
	".rtf":  {},
	".odt":  {},
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".bmp":  {},
	".tiff": {},
}

// SupportedFormats returns the accepted file extensions, without the
// leading dot, in no particular order.
func SupportedFormats() []string {
	out := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		out = append(out, strings.TrimPrefix(ext, "."))
	}

	return out
}

// ValidateFormat rejects file names whose extension the parse service does
// not accept. The comparison is case-insensitive.
func ValidateFormat(fileName string) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return fmt.Errorf("%w: %q has no extension", ErrUnsupportedFormat, fileName)
	}

	if _, ok := supportedExtensions[ext]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	return nil
}

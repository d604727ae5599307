package deposit

import (
	"fmt"

	"classhub/pkg/types"
)

var (
	ErrFileTooLarge        = fmt.Errorf("%w: file too large", types.ErrInvalidArgument)
	ErrUnsupportedFileType = fmt.Errorf("%w: unsupported file type, allowed are jpeg, png, gif, webp, pdf, doc, docx", types.ErrInvalidArgument)
	ErrMissingFile         = fmt.Errorf("%w: a file is required", types.ErrInvalidArgument)
	ErrInvalidFolder       = fmt.Errorf("%w: folder must be at most 100 characters without path separators", types.ErrInvalidArgument)
)

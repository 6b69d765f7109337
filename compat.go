package seekablehttp

import (
	"io"
)

// API contract compile-time checks.
var (
	_ io.ReadSeekCloser = (*Stream)(nil)
	_ io.ReaderAt       = (*Stream)(nil)
	_ Engine            = (*HTTPEngine)(nil)
	_ Transfer          = (*httpTransfer)(nil)
)

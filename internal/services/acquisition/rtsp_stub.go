//go:build !opencv

package acquisition

import "github.com/rs/zerolog"

func newOpenCVGrabber(zerolog.Logger) (rtspGrabber, bool) {
	return nil, false
}

//go:build !opencv

package imaging

func newOpenCVEncoder(Quality) (Encoder, error) {
	return nil, ErrBackendUnavailable
}

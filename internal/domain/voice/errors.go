package voice

import "errors"

var ErrClosed = errors.New("voice scheduler closed")

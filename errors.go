/* SPDX-License-Identifier: BSD-2-Clause */

package seekablehttp

import "errors"

var (
	// ErrTransferSetupFailed is returned by Open when the transfer could not be started.
	ErrTransferSetupFailed = errors.New("transfer setup failed")
	// ErrTransferFailed reports an I/O or protocol failure in the middle of a download.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrSeekOutOfRange is returned when a seek target lies past the end of a terminated download.
	ErrSeekOutOfRange = errors.New("seek out of range")
	// ErrStorageFault reports a backing store that failed to hold or return received bytes.
	ErrStorageFault = errors.New("storage fault")
	ErrInvalidSeek  = errors.New("invalid seek")
	ErrClosed       = errors.New("stream closed")
)

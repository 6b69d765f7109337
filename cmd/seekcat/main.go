/* SPDX-License-Identifier: BSD-2-Clause */

// Copies a byte range of a remote resource to stdout through a seekable
// download.
//
// $ seekcat -offset 1MiB -length 512 https://example.com/disk.img | xxd
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/anacrolix/log"
	"github.com/anacrolix/tagflag"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/ricardobranco777/seekablehttp"
)

var logger = log.Default.WithNames("seekcat")

var flags = struct {
	Offset   tagflag.Bytes `help:"start copying at this offset"`
	FromEnd  bool          `help:"count the offset back from the end of the download"`
	Length   tagflag.Bytes `help:"number of bytes to copy, 0 copies to the end"`
	User     string        `help:"basic auth user"`
	Password string        `help:"basic auth password"`
	Insecure bool          `help:"skip TLS certificate verification"`
	CAFile   string        `help:"PEM bundle of trusted CAs"`
	SpoolDir string        `help:"directory for the temporary spill file"`
	Spill    tagflag.Bytes `help:"bytes kept in memory before spilling to disk"`
	Rate     tagflag.Bytes `help:"download rate limit per second, 0 is unlimited"`
	Timeout  time.Duration `help:"pump timeout"`
	Verbose  bool          `help:"log requests and a summary to stderr"`
	tagflag.StartPos
	URL string
}{
	Spill: seekablehttp.DefaultSpillThreshold,
}

func main() {
	if err := mainErr(); err != nil {
		logger.Levelf(log.Error, "error in main: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	tagflag.Parse(&flags)
	if flags.Verbose {
		seekablehttp.SetLogger(seekablehttp.StdLogger())
	}

	start := time.Now()
	s, err := seekablehttp.Open(flags.URL, &seekablehttp.Options{
		Credentials: seekablehttp.Credentials{User: flags.User, Password: flags.Password},
		TLS:         seekablehttp.TLSPolicy{InsecureSkipVerify: flags.Insecure, CAFile: flags.CAFile},
		Engine:      &seekablehttp.HTTPEngine{RateLimit: rate.Limit(flags.Rate)},
		Store: func() (seekablehttp.Store, error) {
			return seekablehttp.NewSpillStore(int64(flags.Spill), flags.SpoolDir), nil
		},
		PumpTimeout: flags.Timeout,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	off, whence := int64(flags.Offset), io.SeekStart
	if flags.FromEnd {
		off, whence = -off, io.SeekEnd
	}
	if _, err := s.Seek(off, whence); err != nil {
		return fmt.Errorf("seeking to %d: %w", off, err)
	}

	var src io.Reader = s
	if flags.Length > 0 {
		src = io.LimitReader(s, int64(flags.Length))
	}
	n, err := io.Copy(os.Stdout, src)
	if err != nil {
		return fmt.Errorf("copying: %w", err)
	}

	if flags.Verbose {
		fmt.Fprintf(os.Stderr, "%v: copied %s, downloaded %s (%s)\n",
			time.Since(start).Round(time.Millisecond),
			humanize.IBytes(uint64(n)),
			humanize.IBytes(uint64(s.Len())),
			s.State())
	}
	return nil
}

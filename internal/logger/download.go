package logger

import (
	"fmt"
	"io"
	"sync"
)

// DownloadProgress returns a byte-progress callback that renders an
// in-place progress bar to w, rewriting the line as bytes arrive and
// finishing it with a newline. It returns nil when w is not an
// interactive terminal, which disables progress reporting entirely.
func DownloadProgress(w io.Writer) func(name string, done, total int64) {
	if !isTerminal(w) {
		return nil
	}
	return downloadRenderer(w, true)
}

// downloadRenderer drives one ProgressBar per download name. total may
// be -1 when the server does not report a content length; the output
// then falls back to a raw byte count.
func downloadRenderer(w io.Writer, enableColor bool) func(name string, done, total int64) {
	var mu sync.Mutex
	bars := make(map[string]*ProgressBar)
	return func(name string, done, total int64) {
		mu.Lock()
		defer mu.Unlock()
		if total < 0 {
			fmt.Fprintf(w, "\r%s %d bytes", name, done)
			return
		}
		pb, ok := bars[name]
		if !ok {
			pb = NewProgressBar(int(total), 20, enableColor)
			pb.SetPrefix(name + " ")
			bars[name] = pb
		}
		pb.Update(int(done))
		fmt.Fprintf(w, "\r%s", pb.Render())
		if done >= total {
			fmt.Fprintln(w)
			delete(bars, name)
		}
	}
}
